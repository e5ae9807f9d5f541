package enroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kozaktomas/rollcall/internal/capture"
	"github.com/kozaktomas/rollcall/internal/constants"
	"github.com/kozaktomas/rollcall/internal/database"
	"github.com/kozaktomas/rollcall/internal/facematch"
)

// Result describes a stored enrollment.
type Result struct {
	IdentityID string              `json:"identity_id"`
	Dim        int                 `json:"dim"`
	Similar    []database.Neighbor `json:"similar,omitempty"`
	Embedding  facematch.Embedding `json:"-"`
}

// Service enrolls identities from frames or a live camera.
type Service struct {
	Detector  Detector
	Store     database.IdentityWriter
	Model     string
	Timeout   time.Duration
	Threshold float64 // other identities closer than this are reported as similar
	Logger    *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return constants.DefaultEnrollTimeout
}

// EnrollFrame captures one embedding from frame and stores it against identityID.
// The identity must already exist.
func (s *Service) EnrollFrame(ctx context.Context, identityID string, frame *capture.Frame) (*Result, error) {
	identity, err := s.Store.Get(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, identityID)
	}

	emb, err := CaptureOne(ctx, s.Detector, frame, s.timeout())
	if err != nil {
		return nil, err
	}

	similar, err := s.Store.FindNearest(ctx, emb, constants.DuplicateCandidates+1, s.Threshold)
	if err != nil {
		s.logger().Warn("similar identity lookup failed", "identity_id", identityID, "error", err)
	}
	similar = withoutIdentity(similar, identityID)
	if len(similar) > constants.DuplicateCandidates {
		similar = similar[:constants.DuplicateCandidates]
	}

	if err := s.Store.SaveEmbedding(ctx, identityID, emb, s.Model); err != nil {
		return nil, fmt.Errorf("store embedding: %w", err)
	}

	s.logger().Info("identity enrolled", "identity_id", identityID, "dim", len(emb), "similar", len(similar))
	return &Result{IdentityID: identityID, Dim: len(emb), Similar: similar, Embedding: emb}, nil
}

// EnrollFromDevice opens the camera, takes its current frame and enrolls it.
// The camera is released before returning.
func (s *Service) EnrollFromDevice(
	ctx context.Context, identityID string, dev capture.Device, width, height int, warmup time.Duration,
) (*Result, error) {
	handle, err := capture.Open(ctx, dev, width, height, warmup)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	if err := handle.Err(); err != nil {
		return nil, err
	}
	return s.EnrollFrame(ctx, identityID, handle.Frame())
}

func withoutIdentity(neighbors []database.Neighbor, id string) []database.Neighbor {
	out := neighbors[:0]
	for _, n := range neighbors {
		if n.IdentityID != id {
			out = append(out, n)
		}
	}
	return out
}
