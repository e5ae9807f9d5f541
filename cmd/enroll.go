package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/enroll"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <identity-id>",
	Short: "Enroll a face for an existing identity",
	Long: `Capture one face embedding and store it against an identity.
Use --image to enroll from a photo or --camera to take the current frame of
the configured camera. The identity must already exist (see "roster import").`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("image", "", "Path to a JPEG or PNG photo of the face")
	enrollCmd.Flags().Bool("camera", false, "Capture from the configured camera")
}

func runEnroll(cmd *cobra.Command, args []string) error {
	identityID := args[0]
	imagePath := mustGetString(cmd, "image")
	useCamera := mustGetBool(cmd, "camera")

	if (imagePath == "") == !useCamera {
		return errors.New("exactly one of --image or --camera is required")
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

	var result *enroll.Result
	if useCamera {
		if b.camera == nil {
			return errors.New("CAMERA_SNAPSHOT_URL environment variable is required for --camera")
		}
		result, err = svc.EnrollFromDevice(ctx, identityID, b.camera, cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.Warmup)
	} else {
		var frame *capture.Frame
		frame, err = readFrame(imagePath)
		if err != nil {
			return err
		}
		result, err = svc.EnrollFrame(ctx, identityID, frame)
	}
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	printEnrollment(result)
	return nil
}

func readFrame(path string) (*capture.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	frame, err := capture.NewFrame(data, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frame, nil
}

func printEnrollment(result *enroll.Result) {
	fmt.Printf("Enrolled %s (%d-dimensional embedding)\n", result.IdentityID, result.Dim)
	if len(result.Similar) > 0 {
		fmt.Println("Warning: the face is close to already enrolled identities:")
		for _, n := range result.Similar {
			fmt.Printf("  %-20s %-30s distance %.3f\n", n.IdentityID, n.DisplayName, n.Distance)
		}
	}
}
