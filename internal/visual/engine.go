// Package visual implements screenshot-based regression checks against
// baselines held in the object store. Baselines bootstrap on first sight
// and are never mutated by the engine afterwards.
package visual

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/probatio/internal/common"
	"github.com/ternarybob/probatio/internal/interfaces"
	"github.com/ternarybob/probatio/internal/models"
)

const pngContentType = "image/png"

// Engine performs visual checks for runs. Stateless; per-run bookkeeping
// (one diff artifact per run) lives on the RunCheck.
type Engine struct {
	objects interfaces.ObjectStorage
	config  common.VisualConfig
	logger  arbor.ILogger
}

// NewEngine creates a visual regression engine
func NewEngine(objects interfaces.ObjectStorage, config common.VisualConfig, logger arbor.ILogger) *Engine {
	return &Engine{
		objects: objects,
		config:  config,
		logger:  logger,
	}
}

// ForRun scopes the engine to one run. runIdentity keys the baselines and
// must be stable across reruns of the same (test case, dataset) pair;
// artifactsPath is the run's artifact prefix for diff uploads.
func (e *Engine) ForRun(runIdentity, artifactsPath string) *RunCheck {
	return &RunCheck{
		engine:        e,
		runIdentity:   runIdentity,
		artifactsPath: artifactsPath,
	}
}

// RunCheck carries the per-run visual state: at most one diff artifact is
// uploaded per run to bound storage, no matter how many steps mismatch.
type RunCheck struct {
	engine        *Engine
	runIdentity   string
	artifactsPath string
	diffUploaded  bool
}

// Check captures the page and compares it against the stored baseline for
// (runIdentity, stepName). A missing baseline is created and reported as
// BASELINE_CREATED - first-run bootstrapping must not break the pipeline.
// The returned artifact path is non-empty only when a diff was uploaded.
func (rc *RunCheck) Check(ctx context.Context, page interfaces.Page, stepName string) (models.VisualStatus, string, error) {
	e := rc.engine

	screenshot, err := page.FullScreenshot(ctx)
	if err != nil {
		return models.VisualStatusNA, "", fmt.Errorf("visual check could not capture page: %w", err)
	}

	baselineKey := rc.baselineKey(stepName)

	created, err := e.objects.PutIfAbsent(ctx, baselineKey, screenshot, pngContentType)
	if err != nil {
		// Object store outage: observability loss, not a test failure
		e.logger.Warn().
			Err(err).
			Str("baseline", baselineKey).
			Msg("Object store unreachable during visual check")
		return models.VisualStatusNA, "", nil
	}
	if created {
		e.logger.Info().
			Str("baseline", baselineKey).
			Msg("Visual baseline created")
		return models.VisualStatusBaselineCreated, "", nil
	}

	baseline, err := e.objects.Get(ctx, baselineKey)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("baseline", baselineKey).
			Msg("Failed to fetch visual baseline")
		return models.VisualStatusNA, "", nil
	}

	match, mismatchRatio, err := e.compare(baseline, screenshot)
	if err != nil {
		return models.VisualStatusNA, "", fmt.Errorf("visual comparison failed: %w", err)
	}

	if match {
		return models.VisualStatusPass, "", nil
	}

	e.logger.Warn().
		Str("baseline", baselineKey).
		Float64("mismatch_ratio", mismatchRatio).
		Float64("threshold", e.config.MismatchThreshold).
		Msg("Visual mismatch detected")

	artifactPath := ""
	if !rc.diffUploaded {
		artifactPath = rc.artifactsPath + "/visual_failure.png"
		if err := e.objects.Put(ctx, artifactPath, screenshot, pngContentType); err != nil {
			e.logger.Warn().
				Err(err).
				Str("path", artifactPath).
				Msg("Failed to upload visual diff artifact")
			artifactPath = ""
		} else {
			rc.diffUploaded = true
		}
	}

	return models.VisualStatusFail, artifactPath, nil
}

func (rc *RunCheck) baselineKey(stepName string) string {
	return fmt.Sprintf("baselines/%s/%s.png", common.SanitizeName(rc.runIdentity), common.SanitizeName(stepName))
}

// compare decodes both images and counts pixels whose channels differ
// beyond the per-channel tolerance. Dimension changes are always a
// mismatch; small pixel noise is absorbed by the mismatch threshold.
func (e *Engine) compare(baselineData, currentData []byte) (bool, float64, error) {
	baseline, _, err := image.Decode(bytes.NewReader(baselineData))
	if err != nil {
		return false, 0, fmt.Errorf("failed to decode baseline image: %w", err)
	}
	current, _, err := image.Decode(bytes.NewReader(currentData))
	if err != nil {
		return false, 0, fmt.Errorf("failed to decode current image: %w", err)
	}

	bb := baseline.Bounds()
	cb := current.Bounds()
	if bb.Dx() != cb.Dx() || bb.Dy() != cb.Dy() {
		return false, 1, nil
	}

	tolerance := uint32(e.config.PixelTolerance)
	total := bb.Dx() * bb.Dy()
	if total == 0 {
		return true, 0, nil
	}

	mismatched := 0
	for y := 0; y < bb.Dy(); y++ {
		for x := 0; x < bb.Dx(); x++ {
			br, bg, bbl, ba := baseline.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			cr, cg, cbl, ca := current.At(cb.Min.X+x, cb.Min.Y+y).RGBA()
			if channelDiff(br, cr) > tolerance ||
				channelDiff(bg, cg) > tolerance ||
				channelDiff(bbl, cbl) > tolerance ||
				channelDiff(ba, ca) > tolerance {
				mismatched++
			}
		}
	}

	ratio := float64(mismatched) / float64(total)
	return ratio <= e.config.MismatchThreshold, ratio, nil
}

// channelDiff compares two 16-bit color channels in 8-bit space, where the
// configured tolerance is expressed
func channelDiff(a, b uint32) uint32 {
	a8 := a >> 8
	b8 := b >> 8
	if a8 > b8 {
		return a8 - b8
	}
	return b8 - a8
}
