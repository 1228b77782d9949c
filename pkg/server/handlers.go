package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"mercator-hq/notifier/pkg/delta"
	"mercator-hq/notifier/pkg/rules"
	"mercator-hq/notifier/pkg/server/middleware"
	"mercator-hq/notifier/pkg/telemetry/logging"
	"mercator-hq/notifier/pkg/telemetry/tracing"
)

const sourceHTTP = "http"

type decodeFunc func(data []byte, origin string) ([]*delta.Changeset, error)

func decodeMu(data []byte, origin string) ([]*delta.Changeset, error) {
	return delta.DecodeMu(data, origin)
}

// decodeNative uses the header origin only for changesets that carry none.
func decodeNative(data []byte, origin string) ([]*delta.Changeset, error) {
	sets, err := delta.DecodeNative(data)
	if err != nil {
		return nil, err
	}
	for _, cs := range sets {
		if cs.Origin == "" {
			cs.Origin = origin
		}
	}
	return sets, nil
}

// IngestResponse is the body of a 202 answer.
type IngestResponse struct {
	Changesets int            `json:"changesets"`
	Statements int            `json:"statements"`
	Matches    map[string]int `json:"matches"`
	Ignored    []string       `json:"ignored,omitempty"`
}

func (s *Server) ingestHandler(decode decodeFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.Start(r.Context(), "notifier.ingest")
		defer span.End()
		r = r.WithContext(ctx)

		origin := r.Header.Get(s.config.Ingest.OriginHeader)
		ctx = logging.WithOrigin(ctx, origin)

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Ingest.MaxBodyBytes))
		if err != nil {
			tracing.SetStatus(span, err)
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.observer.RecordIngestError(sourceHTTP, "too_large")
				middleware.WriteError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
				return
			}
			s.observer.RecordIngestError(sourceHTTP, "read")
			middleware.WriteError(w, r, http.StatusBadRequest, "read_error", err.Error())
			return
		}

		if err := ctx.Err(); err != nil {
			s.observer.RecordIngestError(sourceHTTP, "timeout")
			middleware.WriteError(w, r, http.StatusServiceUnavailable, "timeout", "request deadline exceeded")
			return
		}

		sets, err := decode(body, origin)
		if err != nil {
			tracing.SetStatus(span, err)
			s.observer.RecordIngestError(sourceHTTP, "decode")
			s.logger.WarnContext(ctx, "rejecting malformed changeset", "error", err, "bytes", len(body))
			middleware.WriteError(w, r, http.StatusBadRequest, "malformed_changeset", err.Error())
			return
		}

		now := s.clock.Now()
		for _, cs := range sets {
			delta.Stamp(cs, now)
		}

		res, err := s.engines.IngestAll(ctx, sets)
		if err != nil {
			s.observer.RecordIngestError(sourceHTTP, "unavailable")
			middleware.WriteError(w, r, http.StatusServiceUnavailable, "engine_unavailable", err.Error())
			return
		}
		s.observer.RecordChangesets(sourceHTTP, res.Changesets, res.Statements)
		tracing.SetIngestAttributes(span, origin, res.Changesets, res.Statements)

		writeJSON(w, http.StatusAccepted, IngestResponse{
			Changesets: res.Changesets,
			Statements: res.Statements,
			Matches:    res.Matches,
			Ignored:    res.Ignored,
		})
	})
}

// RuleView is one entry of GET /rules. Durations are in milliseconds, as
// in the rule file.
type RuleView struct {
	ID       string         `json:"id"`
	Match    rules.Pattern  `json:"match"`
	Callback rules.Callback `json:"callback"`
	Options  OptionsView    `json:"options"`
	State    string         `json:"state"`
	Pending  int            `json:"pending"`
}

// OptionsView renders rules.Options for GET /rules.
type OptionsView struct {
	ResourceFormat rules.ResourceFormat `json:"resourceFormat"`
	GracePeriod    int64                `json:"gracePeriod"`
	IgnoreFromSelf bool                 `json:"ignoreFromSelf"`
	Retry          *int                 `json:"retry,omitempty"`
	RetryTimeout   int64                `json:"retryTimeout,omitempty"`
}

// NewRuleViews renders a table, with state and pending counts when given.
func NewRuleViews(table *rules.Table, states map[string]string, pending map[string]int) []RuleView {
	views := make([]RuleView, 0, table.Len())
	for _, r := range table.Rules() {
		cb := r.Callback
		cb.URL = logging.RedactURL(cb.URL)
		state := states[r.ID]
		if state == "" {
			state = "idle"
		}
		views = append(views, RuleView{
			ID:       r.ID,
			Match:    r.Match,
			Callback: cb,
			Options: OptionsView{
				ResourceFormat: r.Options.ResourceFormat,
				GracePeriod:    r.Options.GracePeriod.Milliseconds(),
				IgnoreFromSelf: r.Options.IgnoreFromSelf,
				Retry:          r.Options.Retry,
				RetryTimeout:   r.Options.RetryTimeout.Milliseconds(),
			},
			State:   state,
			Pending: pending[r.ID],
		})
	}
	return views
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	eng := s.engines.Load()
	if eng == nil {
		middleware.WriteError(w, r, http.StatusServiceUnavailable, "engine_unavailable", "no rule table loaded")
		return
	}

	states := make(map[string]string)
	for id, st := range eng.States() {
		states[id] = st.String()
	}
	views := NewRuleViews(eng.Table(), states, eng.Pending())

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(views),
		"rules": views,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
