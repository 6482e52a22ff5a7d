// Package patterns tracks frequently-used agent/tool call sequences and
// suggests promoting them to named workstacks, grounded on
// original_source/crates/op-cache/src/pattern_tracker.rs.
package patterns

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dbusmcp/opctl/pkg/models"
)

// Config configures a Tracker. Zero values fall back to the package
// defaults recorded in pkg/models.
type Config struct {
	PromotionThreshold int64
	DetectionWindow    time.Duration
	TrackEnabled       bool
}

// DefaultConfig returns the spec-mandated defaults: promote after 3 calls,
// detect within a rolling 24h window.
func DefaultConfig() Config {
	return Config{
		PromotionThreshold: models.DefaultPromotionThreshold,
		DetectionWindow:    models.DefaultDetectionWindow,
		TrackEnabled:       true,
	}
}

// Tracker records agent-sequence executions in a SQLite database (pure Go
// driver, no cgo) and surfaces promotion candidates once a sequence has
// been called enough times within the detection window.
type Tracker struct {
	db     *sql.DB
	config Config
}

// Open opens (creating if needed) the patterns database at dbPath and
// ensures its schema exists.
func Open(ctx context.Context, dbPath string, config Config) (*Tracker, error) {
	if config.PromotionThreshold <= 0 {
		config.PromotionThreshold = models.DefaultPromotionThreshold
	}
	if config.DetectionWindow <= 0 {
		config.DetectionWindow = models.DefaultDetectionWindow
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("patterns: open %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("patterns: ping: %w", err)
	}

	t := &Tracker{db: db, config: config}
	if err := t.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	pattern_hash TEXT PRIMARY KEY,
	agent_sequence TEXT NOT NULL,
	call_count INTEGER NOT NULL DEFAULT 1,
	first_seen INTEGER NOT NULL,
	last_called INTEGER NOT NULL,
	total_latency_ms INTEGER NOT NULL DEFAULT 0,
	promoted INTEGER NOT NULL DEFAULT 0,
	workstack_id TEXT
);

CREATE TABLE IF NOT EXISTS promoted_workstacks (
	workstack_id TEXT PRIMARY KEY,
	pattern_hash TEXT NOT NULL,
	name TEXT NOT NULL,
	agent_sequence TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	execution_count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_patterns_count ON patterns(call_count DESC);
CREATE INDEX IF NOT EXISTS idx_patterns_last ON patterns(last_called DESC);
`
	if _, err := t.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("patterns: migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (t *Tracker) Close() error { return t.db.Close() }

// HashSequence computes the pattern hash for an ordered agent/tool
// sequence: SHA256 of the sequence joined with "→".
func HashSequence(sequence []string) string {
	sum := sha256.Sum256([]byte(strings.Join(sequence, "→")))
	return hex.EncodeToString(sum[:])
}

// RecordSequence records one execution of sequence (an ordered list of
// agent/tool names) and, once call_count reaches the promotion threshold
// for the first time, returns a PromotionSuggestion. Sequences shorter
// than 2 steps are not tracked — a single call has no sequencing to cache.
func (t *Tracker) RecordSequence(ctx context.Context, sequence []string, totalLatencyMS int64) (*models.PromotionSuggestion, error) {
	if !t.config.TrackEnabled || len(sequence) < 2 {
		return nil, nil
	}

	hash := HashSequence(sequence)
	sequenceJSON, err := json.Marshal(sequence)
	if err != nil {
		return nil, fmt.Errorf("patterns: marshal sequence: %w", err)
	}
	now := time.Now().Unix()

	var callCount int64
	var firstSeen, totalLatency int64
	var promoted bool
	row := t.db.QueryRowContext(ctx,
		`SELECT call_count, first_seen, total_latency_ms, promoted FROM patterns WHERE pattern_hash = ?`, hash)
	err = row.Scan(&callCount, &firstSeen, &totalLatency, &promoted)
	switch {
	case err == sql.ErrNoRows:
		if _, err := t.db.ExecContext(ctx,
			`INSERT INTO patterns (pattern_hash, agent_sequence, call_count, first_seen, last_called, total_latency_ms)
			 VALUES (?, ?, 1, ?, ?, ?)`,
			hash, string(sequenceJSON), now, now, totalLatencyMS); err != nil {
			return nil, fmt.Errorf("patterns: insert pattern: %w", err)
		}
		callCount, firstSeen, totalLatency, promoted = 1, now, totalLatencyMS, false
	case err != nil:
		return nil, fmt.Errorf("patterns: query pattern: %w", err)
	default:
		if _, err := t.db.ExecContext(ctx,
			`UPDATE patterns SET call_count = call_count + 1, last_called = ?, total_latency_ms = total_latency_ms + ? WHERE pattern_hash = ?`,
			now, totalLatencyMS, hash); err != nil {
			return nil, fmt.Errorf("patterns: update pattern: %w", err)
		}
		callCount++
		totalLatency += totalLatencyMS
	}

	// Suggest only on the recording that first brings the count to the
	// threshold; later recordings of an unpromoted pattern stay visible
	// through PromotionCandidates.
	if promoted || callCount < t.config.PromotionThreshold || callCount-1 >= t.config.PromotionThreshold {
		return nil, nil
	}

	record := models.PatternRecord{
		PatternHash:    hash,
		AgentSequence:  sequence,
		CallCount:      callCount,
		FirstSeen:      time.Unix(firstSeen, 0),
		LastCalled:     time.Unix(now, 0),
		TotalLatencyMS: totalLatency,
		Promoted:       false,
	}
	return t.buildSuggestion(record), nil
}

// PromotePattern persists a promoted_workstacks row for pattern and marks
// it promoted. The workstack id is "WS-" plus the first 8 hex characters
// of the pattern hash, per spec.md §6.
func (t *Tracker) PromotePattern(ctx context.Context, pattern models.PatternRecord) (string, error) {
	workstackID := fmt.Sprintf("WS-%s", pattern.PatternHash[:8])
	name := suggestedName(pattern.AgentSequence)
	sequenceJSON, err := json.Marshal(pattern.AgentSequence)
	if err != nil {
		return "", fmt.Errorf("patterns: marshal sequence: %w", err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("patterns: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO promoted_workstacks (workstack_id, pattern_hash, name, agent_sequence, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		workstackID, pattern.PatternHash, name, string(sequenceJSON), time.Now().Unix()); err != nil {
		return "", fmt.Errorf("patterns: insert promoted workstack: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE patterns SET promoted = 1, workstack_id = ? WHERE pattern_hash = ?`,
		workstackID, pattern.PatternHash); err != nil {
		return "", fmt.Errorf("patterns: mark promoted: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("patterns: commit: %w", err)
	}
	return workstackID, nil
}

// PromotionCandidates returns every non-promoted pattern whose call count
// has reached the threshold and that was last called within the
// detection window, ranked by call count descending.
func (t *Tracker) PromotionCandidates(ctx context.Context) ([]models.PromotionSuggestion, error) {
	cutoff := time.Now().Add(-t.config.DetectionWindow).Unix()
	rows, err := t.db.QueryContext(ctx,
		`SELECT pattern_hash, agent_sequence, call_count, first_seen, last_called, total_latency_ms
		 FROM patterns
		 WHERE call_count >= ? AND promoted = 0 AND last_called > ?
		 ORDER BY call_count DESC`,
		t.config.PromotionThreshold, cutoff)
	if err != nil {
		return nil, fmt.Errorf("patterns: query candidates: %w", err)
	}
	defer rows.Close()

	var out []models.PromotionSuggestion
	for rows.Next() {
		var hash, sequenceJSON string
		var callCount, firstSeen, lastCalled, totalLatency int64
		if err := rows.Scan(&hash, &sequenceJSON, &callCount, &firstSeen, &lastCalled, &totalLatency); err != nil {
			return nil, fmt.Errorf("patterns: scan candidate: %w", err)
		}
		var sequence []string
		_ = json.Unmarshal([]byte(sequenceJSON), &sequence)
		record := models.PatternRecord{
			PatternHash:    hash,
			AgentSequence:  sequence,
			CallCount:      callCount,
			FirstSeen:      time.Unix(firstSeen, 0),
			LastCalled:     time.Unix(lastCalled, 0),
			TotalLatencyMS: totalLatency,
		}
		out = append(out, *t.buildSuggestion(record))
	}
	return out, rows.Err()
}

// Stats reports aggregate tracker counts.
func (t *Tracker) Stats(ctx context.Context) (TrackerCounts, error) {
	var counts TrackerCounts
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&counts.TotalPatterns); err != nil {
		return counts, fmt.Errorf("patterns: count patterns: %w", err)
	}
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns WHERE promoted = 1`).Scan(&counts.PromotedCount); err != nil {
		return counts, fmt.Errorf("patterns: count promoted: %w", err)
	}
	if err := t.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns WHERE call_count >= ? AND promoted = 0`, t.config.PromotionThreshold).Scan(&counts.PendingPromotion); err != nil {
		return counts, fmt.Errorf("patterns: count pending: %w", err)
	}
	counts.PromotionThreshold = t.config.PromotionThreshold
	return counts, nil
}

// TrackerCounts summarizes the pattern table for observability.
type TrackerCounts struct {
	TotalPatterns      int64
	PromotedCount      int64
	PendingPromotion   int64
	PromotionThreshold int64
}

// Cleanup deletes non-promoted patterns that have not been called in
// olderThan and never reached the promotion threshold.
func (t *Tracker) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := t.db.ExecContext(ctx,
		`DELETE FROM patterns WHERE last_called < ? AND promoted = 0 AND call_count < ?`,
		cutoff, t.config.PromotionThreshold)
	if err != nil {
		return 0, fmt.Errorf("patterns: cleanup: %w", err)
	}
	return res.RowsAffected()
}

func (t *Tracker) buildSuggestion(record models.PatternRecord) *models.PromotionSuggestion {
	return &models.PromotionSuggestion{
		Pattern:              record,
		EstimatedTimeSavedMS: estimateTimeSavings(record, t.config.PromotionThreshold),
		ConfidenceScore:      calculateConfidence(record, t.config.PromotionThreshold),
		SuggestedName:        suggestedName(record.AgentSequence),
	}
}

// estimateTimeSavings assumes a 40% future cache-hit rate at a 60%
// latency reduction per hit, matching the Rust original's heuristic.
func estimateTimeSavings(record models.PatternRecord, threshold int64) int64 {
	avgLatency := record.AvgLatencyMS()
	expectedFutureCalls := record.CallCount * 2
	cacheHitSavings := int64(float64(avgLatency) * 0.6)
	_ = threshold
	return int64(float64(expectedFutureCalls) * float64(cacheHitSavings) * 0.4)
}

// calculateConfidence implements the spec.md §6 confidence formula:
// 0.6*frequency_score + 0.4*recency_score, each component clamped to
// [0, 1] before weighting (frequency_score itself caps at 1 via the
// min(2, ratio)/2 term).
func calculateConfidence(record models.PatternRecord, threshold int64) float64 {
	recencyDays := time.Since(record.LastCalled).Hours() / 24
	frequencyScore := math.Min(2.0, float64(record.CallCount)/float64(threshold)) / 2.0
	recencyScore := math.Max(0.0, 1.0-recencyDays/7.0)
	confidence := frequencyScore*0.6 + recencyScore*0.4
	return math.Min(1.0, confidence)
}

// suggestedName derives a human-readable workstack name from the
// sequence: "first-to-last" for two steps, "first-to-last-Nstep" beyond.
func suggestedName(sequence []string) string {
	if len(sequence) == 0 {
		return "unnamed-workstack"
	}
	first := sequence[0]
	last := sequence[len(sequence)-1]
	if len(sequence) == 2 {
		return fmt.Sprintf("%s-to-%s", first, last)
	}
	return fmt.Sprintf("%s-to-%s-%dstep", first, last, len(sequence))
}
