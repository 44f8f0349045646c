package server

import (
	"context"
	"log/slog"

	"github.com/oselotti/capreplay/artifact"
	"github.com/oselotti/capreplay/capture"
	"github.com/oselotti/capreplay/correlate"
	"github.com/oselotti/capreplay/observability"
	"github.com/oselotti/capreplay/trailstore"
)

// WirePipeline assembles the artifact side of the capture pipeline:
// reassembled artifacts are persisted through sink, then correlated
// against the coordinator's open sessions; a winning match links the
// artifact to its session, both in memory and in the trail store.
// events may be nil.
func WirePipeline(
	coord *capture.Coordinator,
	trails *trailstore.Store,
	sink artifact.Sink,
	corr *correlate.Correlator,
	events *observability.EventLogger,
	logger *slog.Logger,
	opts ...artifact.CompletionOption,
) (*artifact.Reassembler, *artifact.Completion) {
	if logger == nil {
		logger = slog.Default()
	}
	reasm := artifact.NewReassembler()

	all := append([]artifact.CompletionOption{
		artifact.WithCompletionLogger(logger),
		artifact.OnFinalized(func(art artifact.Artifact) {
			sessionID, overlapMS := corr.Match(art, coord.OpenSessions())
			if sessionID == "" {
				if events != nil {
					events.LogEvent(context.Background(), observability.PipelineEvent{
						Stage: observability.StageCorrelate, EntityType: "artifact",
						EntityID: art.ID, Action: "orphaned", Success: false,
					})
				}
				return
			}
			coord.LinkArtifact(sessionID, art.ID)
			if trails != nil {
				if err := trails.LinkArtifact(context.Background(), sessionID, art.ID); err != nil {
					logger.Warn("pipeline: persist artifact link failed",
						"session_id", sessionID, "artifact_id", art.ID, "error", err)
				}
			}
			if events != nil {
				events.LogEvent(context.Background(), observability.PipelineEvent{
					Stage: observability.StageCorrelate, EntityType: "artifact",
					EntityID: art.ID, SessionID: sessionID, Action: "linked", Success: true,
				})
			}
			logger.Info("pipeline: artifact linked",
				"session_id", sessionID, "artifact_id", art.ID, "overlap_ms", overlapMS)
		}),
	}, opts...)

	completion := artifact.NewCompletion(reasm, sink, all...)
	return reasm, completion
}
