package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/enroll"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage the class roster",
}

var rosterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	RunE:  runRosterList,
}

var rosterImportCmd = &cobra.Command{
	Use:   "import <directory>",
	Short: "Create and enroll identities from a directory of photos",
	Long: `Import every JPEG or PNG in a directory as an identity.
File names follow "<id>_<Display-Name>.jpg", for example "s-104_Jana-Novakova.jpg".
Each identity is created (or renamed) and, unless --no-enroll is set, its face
is enrolled from the photo.`,
	Args: cobra.ExactArgs(1),
	RunE: runRosterImport,
}

var rosterReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the in-memory identity index and save it to disk",
	Long: `Rebuild the HNSW identity index from PostgreSQL and write it to HNSW_INDEX_PATH.
Run it after bulk changes made outside this tool so the next start loads a fresh index.`,
	Args: cobra.NoArgs,
	RunE: runRosterReindex,
}

func init() {
	rootCmd.AddCommand(rosterCmd)
	rosterCmd.AddCommand(rosterListCmd)
	rosterCmd.AddCommand(rosterImportCmd)
	rosterCmd.AddCommand(rosterReindexCmd)

	rosterListCmd.Flags().String("class", "", "Only identities of this class")
	rosterListCmd.Flags().String("query", "", "Filter by display name")
	rosterListCmd.Flags().Bool("enrolled", false, "Only identities with an enrolled face")

	rosterImportCmd.Flags().String("class", "", "Class ID assigned to imported identities")
	rosterImportCmd.Flags().Bool("no-enroll", false, "Create identities without enrolling faces")
}

func runRosterList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, err := connectStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	identities, err := b.identities.List(ctx, database.IdentityFilter{
		ClassID:      mustGetString(cmd, "class"),
		Query:        mustGetString(cmd, "query"),
		EnrolledOnly: mustGetBool(cmd, "enrolled"),
	})
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}

	fmt.Printf("%-20s %-30s %-10s %s\n", "ID", "NAME", "CLASS", "ENROLLED")
	for i := range identities {
		s := &identities[i]
		enrolled := "-"
		if s.HasEmbedding() {
			enrolled = s.EnrolledAt.Format("2006-01-02")
		}
		fmt.Printf("%-20s %-30s %-10s %s\n", s.ID, s.DisplayName, s.ClassID, enrolled)
	}
	fmt.Printf("\n%d identities\n", len(identities))
	return nil
}

// importFile is one photo found by roster import.
type importFile struct {
	path        string
	id          string
	displayName string
}

// collectImportFiles returns the images in dir sorted by file name.
func collectImportFiles(dir string) ([]importFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []importFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
			continue
		}
		id, name := facematch.DisplayNameFromFile(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if id == "" {
			continue
		}
		files = append(files, importFile{path: filepath.Join(dir, e.Name()), id: id, displayName: name})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

func runRosterImport(cmd *cobra.Command, args []string) error {
	classID := mustGetString(cmd, "class")
	noEnroll := mustGetBool(cmd, "no-enroll")

	files, err := collectImportFiles(args[0])
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New("no images found")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, err := connectStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()
	b.withDetector()
	svc := b.enroller()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
	)

	var failures []string
	var duplicates []*enroll.Result
	for _, f := range files {
		if err := importOne(ctx, b, svc, f, classID, noEnroll, &duplicates); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", filepath.Base(f.path), err))
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("Imported %d of %d identities\n", len(files)-len(failures), len(files))
	for _, r := range duplicates {
		printEnrollment(r)
	}
	if len(failures) > 0 {
		fmt.Println("Failed:")
		for _, f := range failures {
			fmt.Printf("  %s\n", f)
		}
		return fmt.Errorf("%d imports failed", len(failures))
	}
	return nil
}

func importOne(
	ctx context.Context, b *backend, svc *enroll.Service, f importFile, classID string, noEnroll bool,
	duplicates *[]*enroll.Result,
) error {
	if err := b.identities.Upsert(ctx, database.StoredIdentity{ID: f.id, DisplayName: f.displayName, ClassID: classID}); err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	if noEnroll {
		return nil
	}

	frame, err := readFrame(f.path)
	if err != nil {
		return err
	}
	result, err := svc.EnrollFrame(ctx, f.id, frame)
	if err != nil {
		return err
	}
	if len(result.Similar) > 0 {
		*duplicates = append(*duplicates, result)
	}
	return nil
}

func runRosterReindex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	b, err := connectStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	count, err := reindexIdentities(ctx, database.GetIdentityHNSWRebuilder())
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d identities\n", count)
	return nil
}

// reindexIdentities rebuilds the identity index and persists it.
func reindexIdentities(ctx context.Context, rebuilder database.HNSWRebuilder) (int, error) {
	if rebuilder == nil || !rebuilder.IsHNSWEnabled() {
		return 0, errors.New("identity index is not enabled")
	}
	if err := rebuilder.RebuildHNSW(ctx); err != nil {
		return 0, fmt.Errorf("failed to rebuild identity index: %w", err)
	}
	if err := rebuilder.SaveHNSWIndex(); err != nil {
		return 0, err
	}
	return rebuilder.HNSWCount(), nil
}
