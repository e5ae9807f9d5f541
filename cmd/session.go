package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Run attendance sessions from the terminal",
}

var sessionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Take attendance with the configured camera until interrupted",
	Long: `Start a live attendance session for a class and print each student as
they are marked present. The session ends on Ctrl+C or, when --duration is
set, after that many minutes.`,
	RunE: runSessionRun,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionRunCmd)

	f := sessionRunCmd.Flags()
	f.String("class", "", "Class ID whose enrolled identities form the roster")
	f.String("class-name", "", "Class name recorded with each mark")
	f.String("subject", "", "Subject of the lesson")
	f.String("topic", "", "Topic of the lesson")
	f.String("type", "", "Session type (lecture, lab, ...)")
	f.Int("duration", 0, "Planned duration in minutes, ends the session when it elapses")
	f.String("teacher", "", "Teacher ID")
	f.String("organization", "", "Organization ID")
	f.Duration("interval", 0, "Scan interval (defaults to SCAN_INTERVAL)")
	f.Float64("threshold", 0, "Match threshold (defaults to MATCH_THRESHOLD)")
}

func runSessionRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := connectStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()
	b.withDetector()
	if b.camera == nil {
		return errors.New("CAMERA_SNAPSHOT_URL environment variable is required")
	}

	details := session.Details{
		ClassID:         mustGetString(cmd, "class"),
		ClassName:       mustGetString(cmd, "class-name"),
		Subject:         mustGetString(cmd, "subject"),
		Topic:           mustGetString(cmd, "topic"),
		SessionType:     mustGetString(cmd, "type"),
		DurationMinutes: mustGetInt(cmd, "duration"),
		TeacherID:       mustGetString(cmd, "teacher"),
		OrganizationID:  mustGetString(cmd, "organization"),
	}

	roster, err := session.LoadRoster(ctx, b.identities, details.ClassID)
	if err != nil {
		return err
	}
	if len(roster) == 0 {
		fmt.Println("Warning: no enrolled identities in the roster, nobody can be marked")
	}

	manager := b.manager()
	defer manager.Shutdown()
	stopNotifier := startNotifier(ctx, cfg, manager)
	defer stopNotifier()

	fmt.Printf("Loading face model and opening camera...\n")
	c, err := manager.Start(ctx, session.StartRequest{
		Roster:         roster,
		Details:        details,
		ScanInterval:   mustGetDuration(cmd, "interval"),
		MatchThreshold: mustGetFloat64(cmd, "threshold"),
	})
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	events := c.AddListener()
	defer c.RemoveListener(events)

	var deadline <-chan time.Time
	if details.DurationMinutes > 0 {
		timer := time.NewTimer(time.Duration(details.DurationMinutes) * time.Minute)
		defer timer.Stop()
		deadline = timer.C
	}

	fmt.Printf("Session %s started with %d enrolled identities. Press Ctrl+C to stop.\n", c.ID(), len(roster))
	printEvents(ctx, c, events, deadline)

	c.Stop()
	st := c.Status()
	fmt.Printf("\nSession ended: %d of %d present", st.MarkCount, st.RosterSize)
	if st.FailedCount > 0 {
		fmt.Printf(", %d not saved", st.FailedCount)
	}
	fmt.Println()
	if st.LastError != "" {
		return fmt.Errorf("session error: %s", st.LastError)
	}
	return nil
}

// printEvents prints marks and errors until the session ends, ctx is cancelled or
// the deadline passes.
func printEvents(ctx context.Context, c *session.Controller, events <-chan session.Event, deadline <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			fmt.Println("Planned duration elapsed")
			return
		case <-c.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case session.EventMarked:
				if m, ok := ev.Data.(session.Mark); ok {
					fmt.Printf("%s  present  %-30s (distance %.3f)\n", m.MarkedAt.Format("15:04:05"), m.DisplayName, m.Distance)
				}
			case session.EventPersistenceError, session.EventError:
				fmt.Printf("Warning: %s\n", ev.Message)
			}
		}
	}
}
