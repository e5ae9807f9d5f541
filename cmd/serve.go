package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/web"
	"github.com/kozaktomas/rollcall/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Rollcall HTTP API.
The API manages the roster, enrolls faces from uploads or the camera, and runs
live attendance sessions whose events are streamed over SSE and, when
MQTT_BROKER is set, published to MQTT.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := connectStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()
	b.withDetector()

	if b.camera == nil {
		fmt.Println("Warning: CAMERA_SNAPSHOT_URL is not set, live sessions and camera enrollment are disabled")
	}

	manager := b.manager()
	stopNotifier := startNotifier(ctx, cfg, manager)
	defer stopNotifier()

	// Warm the model in the background so the first session starts quickly.
	go func() {
		if err := b.extractor.EnsureReady(ctx); err != nil {
			fmt.Printf("Warning: face model not ready: %v\n", err)
		}
	}()

	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, web.Deps{
		Manager:    manager,
		Identities: b.identities,
		Attendance: b.attendance,
		History:    b.sessions,
		Enroller:   b.enroller(),
		Camera:     b.camera,
		Model:      handlers.ModelStater(b.extractor),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Rollcall API on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
