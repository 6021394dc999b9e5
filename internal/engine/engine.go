package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/decision-cli/internal/evidence"
	"github.com/sells-group/decision-cli/internal/model"
	"github.com/sells-group/decision-cli/internal/resolver"
)

// ErrDeprecatedAnalyze rejects the removed single-step analyze shortcut.
// Callers that still send it get this fixed error and nothing else.
var ErrDeprecatedAnalyze = eris.New("ERR_DEPRECATED_ANALYZE: the analyze shortcut was removed; use the run pipeline")

// Engine evaluates the gate cascade over a resolved match's evidence and
// emits one immutable decision per requested market.
type Engine struct {
	minConfidence float64

	// nowFunc pins run timestamps in tests.
	nowFunc func() time.Time
}

// New creates an engine. A non-positive minimum confidence falls back to
// the policy default.
func New(minConfidence float64) *Engine {
	if minConfidence <= 0 {
		minConfidence = model.DefaultMinConfidence
	}
	return &Engine{minConfidence: minConfidence, nowFunc: time.Now}
}

// Evaluate produces the analysis run for one request. The resolver gate
// applies to every market: anything but RESOLVED blocks them all with the
// mapped flag. Otherwise each market's proposal is computed eagerly (gates
// five and eight need its confidence) and folded through the cascade.
func (e *Engine) Evaluate(runID string, res resolver.Resolution, pack *model.EvidencePack, markets []model.Market) model.AnalysisRun {
	if len(markets) == 0 {
		markets = model.SupportedMarkets
	}

	log := zap.L().With(
		zap.String("component", "engine"),
		zap.String("run_id", runID),
		zap.String("match_id", res.MatchID),
	)

	run := model.AnalysisRun{
		ID:            runID,
		MatchID:       res.MatchID,
		ResolveStatus: res.Status,
		PolicyVersion: model.PolicyVersion,
		Counts: map[model.DecisionKind]int{
			model.DecisionPlay:         0,
			model.DecisionNoBet:        0,
			model.DecisionNoPrediction: 0,
		},
		CreatedAt: e.nowFunc().UTC(),
	}

	if res.Status != model.ResolveResolved {
		flag := resolverFlag(res.Status)
		run.GateResults = []model.GateResult{{
			GateID: model.GateResolver,
			Pass:   false,
			Notes:  fmt.Sprintf("resolver status %s", res.Status),
		}}
		for _, m := range markets {
			d := finalize(blocked(proposal{Market: m}, nil, flag))
			run.Decisions = append(run.Decisions, d)
			run.Counts[d.Kind]++
		}
		run.Flags = []model.MarketFlag{flag}
		run.Status = model.RunStatusNoPrediction
		log.Info("run blocked by resolver", zap.String("resolve_status", string(res.Status)))
		return run
	}

	run.GateResults = []model.GateResult{{
		GateID: model.GateResolver,
		Pass:   true,
		Notes:  "resolver status RESOLVED",
	}}

	quality := evidence.EvidenceQuality(pack)
	consensus := evidence.ConsensusQuality(pack)
	run.ConflictSummary = &model.ConflictSummary{
		EvidenceQuality:  quality,
		ConsensusQuality: consensus,
	}

	feats := evidence.Extract(pack)

	flagSet := make(map[model.MarketFlag]bool)
	anyPlay := false
	for _, m := range markets {
		prop := propose(m, feats)
		d, trail := e.decideMarket(prop, quality, consensus)
		d = finalize(d)

		run.Decisions = append(run.Decisions, d)
		run.GateResults = append(run.GateResults, trail...)
		run.Counts[d.Kind]++
		for _, fl := range d.Flags {
			flagSet[fl] = true
		}
		if d.Kind == model.DecisionPlay {
			anyPlay = true
		}
	}

	run.Flags = sortedMarketFlags(flagSet)
	if anyPlay {
		run.Status = model.RunStatusOK
	} else {
		run.Status = model.RunStatusNoPrediction
	}

	log.Info("run evaluated",
		zap.String("status", string(run.Status)),
		zap.Int("play", run.Counts[model.DecisionPlay]),
		zap.Int("no_bet", run.Counts[model.DecisionNoBet]),
		zap.Int("no_prediction", run.Counts[model.DecisionNoPrediction]),
	)
	return run
}

// resolverFlag maps a non-resolved status to its market flag.
func resolverFlag(status model.ResolveStatus) model.MarketFlag {
	if status == model.ResolveAmbiguous {
		return model.FlagAmbiguous
	}
	return model.FlagNotFound
}

// finalize normalizes a decision for emission: slices never nil, reasons
// capped, confidence rounded.
func finalize(d model.Decision) model.Decision {
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
	if len(d.Reasons) > model.MaxDecisionReasons {
		d.Reasons = d.Reasons[:model.MaxDecisionReasons]
	}
	if d.Flags == nil {
		d.Flags = []model.MarketFlag{}
	}
	if d.EvidenceRefs == nil {
		d.EvidenceRefs = []string{}
	}
	if d.Confidence != nil {
		c := round4(*d.Confidence)
		d.Confidence = &c
	}
	return d
}

func sortedMarketFlags(set map[model.MarketFlag]bool) []model.MarketFlag {
	out := make([]model.MarketFlag, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
