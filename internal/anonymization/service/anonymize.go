package service

import (
	"context"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kanon/internal/anonymization/generalize"
	"kanon/internal/anonymization/hierarchy"
	"kanon/internal/anonymization/models"
	"kanon/internal/anonymization/partition"
	"kanon/internal/anonymization/suppression"
	"kanon/internal/anonymization/validate"
	"kanon/internal/dataset"
	dErrors "kanon/pkg/domain-errors"
	audit "kanon/pkg/platform/audit"
)

// runState is the bookkeeping of one Anonymize call.
type runState struct {
	id     uuid.UUID
	cfg    models.AnonymizationConfig
	input  *dataset.Dataset
	work   *dataset.Dataset
	ws     *generalize.WorkingSet
	sm     *models.Run
	report *models.ComplianceReport

	// loop level per field; starts at the base level and only climbs
	levels map[string]int
	cursor int
}

// Anonymize transforms ds into a release satisfying k-anonymity under cfg.
// The input dataset is not modified. On any error no dataset is returned.
func (s *Service) Anonymize(ctx context.Context, ds *dataset.Dataset, cfg models.AnonymizationConfig) (*models.Release, error) {
	start := s.now()
	r := &runState{
		id:    uuid.New(),
		cfg:   cfg,
		input: ds,
		sm:    models.NewRun(),
		report: &models.ComplianceReport{
			K:                cfg.K,
			QuasiIdentifiers: cfg.Fields(),
			TotalRecords:     ds.Len(),
			FieldLevels:      map[string]int{},
			RareMerges:       map[string][]string{},
		},
	}
	r.report.RunID = r.id

	ctx, span := s.tracer.Start(ctx, "anonymization.run", trace.WithAttributes(
		attribute.String("run_id", r.id.String()),
		attribute.Int("k", cfg.K),
		attribute.Int("records", ds.Len()),
	))
	defer span.End()

	release, err := s.run(ctx, r)
	s.metrics.ObserveRunDuration(s.now().Sub(start))
	if err != nil {
		r.sm.Fail()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncRun(outcome(err))
		s.logger.ErrorContext(ctx, "anonymization run failed",
			"run_id", r.id,
			"state_history", len(r.sm.History),
			"error", err,
		)
		s.emitFailure(ctx, r, err)
		return nil, err
	}

	s.metrics.IncRun("released")
	s.logger.InfoContext(ctx, "dataset released",
		"log_type", "audit",
		"run_id", r.id,
		"records", release.Report.ReleasedRecords,
		"suppressed", release.Report.SuppressedCount,
		"min_class_size", release.Report.MinClassSize,
		"fingerprint", release.Report.Fingerprint,
	)
	return release, nil
}

func (s *Service) run(ctx context.Context, r *runState) (*models.Release, error) {
	if err := s.prepare(ctx, r); err != nil {
		return nil, err
	}
	res, err := s.generalizeLoop(ctx, r)
	if err != nil {
		return nil, err
	}
	if !res.Passed {
		if res, err = s.suppress(ctx, r, res); err != nil {
			return nil, err
		}
	}
	if err := r.sm.Advance(models.StateDone); err != nil {
		return nil, err
	}
	return s.release(ctx, r, res)
}

// prepare fails fast on configuration and schema problems, drops direct
// identifiers, applies base levels and the one-time rare-category merge.
func (s *Service) prepare(ctx context.Context, r *runState) error {
	ctx, span := s.tracer.Start(ctx, "anonymization.prepare")
	defer span.End()

	if err := r.cfg.Validate(); err != nil {
		return err
	}
	for _, qi := range r.cfg.QuasiIdentifiers {
		if slices.Contains(r.cfg.DropColumns, qi.SourceColumn()) {
			return dErrors.Newf(dErrors.CodeConfig, "column %q is both dropped and the source of quasi-identifier %q", qi.SourceColumn(), qi.Name)
		}
	}
	var missing []string
	for _, qi := range r.cfg.QuasiIdentifiers {
		if column, _ := qi.InputColumn(r.input); !r.input.HasColumn(column) {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return dErrors.Newf(dErrors.CodeSchema, "input is missing quasi-identifier columns %v", missing)
	}

	r.work = r.input.Clone()
	r.report.ColumnsRemoved = r.work.DropColumns(r.cfg.DropColumns...)

	ws, err := generalize.NewWorkingSet(r.work, r.cfg.QuasiIdentifiers)
	if err != nil {
		return err
	}
	r.ws = ws

	steps, err := generalize.ApplyBase(ws)
	if err != nil {
		return err
	}
	s.recordSteps(r, steps...)

	r.levels = make(map[string]int, len(r.cfg.QuasiIdentifiers))
	for _, qi := range r.cfg.QuasiIdentifiers {
		r.levels[qi.Name] = qi.BaseLevel
	}

	before, err := r.validate()
	if err != nil {
		return err
	}
	r.report.ViolatingClassesBefore = len(before.Violating)

	return s.mergeRare(ctx, r)
}

// mergeRare collapses rare categories of nominal fields ending in a
// catch-all. It runs once before the loop and once after suppression, when
// removed records may have left a category below the threshold.
func (s *Service) mergeRare(ctx context.Context, r *runState) error {
	if r.cfg.RareThreshold <= 1 {
		return nil
	}
	for _, qi := range r.cfg.QuasiIdentifiers {
		if qi.Hierarchy.Role() != hierarchy.RoleNominal {
			continue
		}
		merged, err := generalize.MergeRare(r.ws, qi.Name, r.cfg.RareThreshold)
		if err != nil {
			return err
		}
		if len(merged) == 0 {
			continue
		}
		r.report.RareMerges[qi.Name] = mergeSorted(r.report.RareMerges[qi.Name], merged)
		s.metrics.AddRareMerged(qi.Name, len(merged))
		s.logger.InfoContext(ctx, "rare categories merged",
			"run_id", r.id,
			"field", qi.Name,
			"categories", len(merged),
		)
	}
	return nil
}

// generalizeLoop climbs one field at a time, locally, until no class is
// below k or every hierarchy is at its terminal level. Each iteration raises
// one field's loop level, so the loop runs at most sum(depth - base) times.
func (s *Service) generalizeLoop(ctx context.Context, r *runState) (validate.Result, error) {
	ctx, span := s.tracer.Start(ctx, "anonymization.generalize")
	defer span.End()

	order := r.cfg.PriorityOrder()
	for {
		res, err := r.validate()
		if err != nil {
			return validate.Result{}, err
		}
		if res.Passed {
			return res, nil
		}
		field, ok := r.nextField(order)
		if !ok {
			if err := r.sm.Advance(models.StateHierarchyExhausted); err != nil {
				return validate.Result{}, err
			}
			s.logger.InfoContext(ctx, "hierarchies exhausted",
				"run_id", r.id,
				"violating_classes", len(res.Violating),
			)
			return res, nil
		}

		target := r.levels[field] + 1
		if err := r.sm.Generalizing(field, target); err != nil {
			return validate.Result{}, err
		}
		step, err := generalize.Step(r.ws, field, target, generalize.Records(res.ViolatingRecords()))
		if err != nil {
			return validate.Result{}, err
		}
		r.levels[field] = target
		s.recordSteps(r, step)
		s.logger.DebugContext(ctx, "generalized field",
			"run_id", r.id,
			"field", field,
			"level", target,
			"changed", step.Changed,
			"violating_classes", len(res.Violating),
		)
	}
}

// suppress removes every record of the still-violating classes, then
// re-merges rare categories and re-validates once.
func (s *Service) suppress(ctx context.Context, r *runState, res validate.Result) (validate.Result, error) {
	ctx, span := s.tracer.Start(ctx, "anonymization.suppress")
	defer span.End()

	if err := r.sm.Advance(models.StateSuppressing); err != nil {
		return validate.Result{}, err
	}
	sel, err := suppression.Select(res.Violating, r.ws.Len(), r.cfg.MaxSuppression)
	if err != nil {
		return validate.Result{}, err
	}
	suppressed := make([]int, len(sel.Records))
	for i, p := range sel.Records {
		suppressed[i] = r.ws.Origin(p)
	}
	r.ws.Remove(sel.Records)
	r.report.SuppressedRecords = suppressed
	r.report.SuppressedCount = len(suppressed)
	s.metrics.AddSuppressed(len(suppressed))
	span.SetAttributes(attribute.Int("suppressed", len(suppressed)))
	s.logger.InfoContext(ctx, "records suppressed",
		"run_id", r.id,
		"records", len(suppressed),
		"classes", sel.Classes,
		"fraction", sel.Fraction,
	)

	if err := s.mergeRare(ctx, r); err != nil {
		return validate.Result{}, err
	}
	final, err := r.validate()
	if err != nil {
		return validate.Result{}, err
	}
	if !final.Passed {
		return validate.Result{}, dErrors.Newf(dErrors.CodeCompliance,
			"%d classes still below k=%d after suppression", len(final.Violating), r.cfg.K)
	}
	return final, nil
}

// release materializes the snapshot: generalized quasi-identifier columns,
// source columns dropped, rows shuffled and numbered 1..n. A run that changed
// nothing on an input already numbered the way a release is keeps its order
// and ids, so a released dataset is a fixed point.
func (s *Service) release(ctx context.Context, r *runState, res validate.Result) (*models.Release, error) {
	ctx, span := s.tracer.Start(ctx, "anonymization.release")
	defer span.End()

	out := r.work.Select(r.ws.Origins())
	columns := r.ws.Columns()
	unchanged := len(r.report.ColumnsRemoved) == 0 && r.report.SuppressedCount == 0
	for f, qi := range r.cfg.QuasiIdentifiers {
		if unchanged && !sameValues(out, qi.Name, columns[f]) {
			unchanged = false
		}
		if err := out.SetColumn(qi.Name, columns[f]); err != nil {
			return nil, err
		}
	}
	for _, qi := range r.cfg.QuasiIdentifiers {
		if qi.SourceColumn() != qi.Name {
			r.report.ColumnsRemoved = append(r.report.ColumnsRemoved, out.DropColumns(qi.SourceColumn())...)
		}
	}
	for _, c := range out.Columns {
		if !r.input.HasColumn(c) {
			r.report.ColumnsAdded = append(r.report.ColumnsAdded, c)
		}
	}
	if len(r.report.ColumnsRemoved) > 0 || len(r.report.ColumnsAdded) > 0 {
		unchanged = false
	}

	idColumn := r.cfg.IDColumn
	if idColumn == "" {
		idColumn = models.DefaultIDColumn
	}
	if !unchanged || !releaseNumbered(out, idColumn) {
		var err error
		if out, err = s.shuffle(out, idColumn, r.cfg.Seed); err != nil {
			return nil, err
		}
		if !r.input.HasColumn(idColumn) && !slices.Contains(r.report.ColumnsAdded, idColumn) {
			r.report.ColumnsAdded = append(r.report.ColumnsAdded, idColumn)
		}
	}

	fingerprint, err := s.codec.Fingerprint(out)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "fingerprint release")
	}

	rep := r.report
	rep.GeneratedAt = s.now().UTC()
	rep.ReleasedRecords = out.Len()
	rep.MinClassSize = res.MinSize
	rep.ClassCount = res.ClassCount
	rep.Passed = res.Passed
	rep.Fingerprint = fingerprint
	rep.Transitions = r.sm.History
	for name, level := range r.levels {
		rep.FieldLevels[name] = level
	}
	if rep.SuppressedRecords == nil {
		rep.SuppressedRecords = []int{}
	}
	if rep.ColumnsRemoved == nil {
		rep.ColumnsRemoved = []string{}
	}
	if rep.ColumnsAdded == nil {
		rep.ColumnsAdded = []string{}
	}
	span.SetAttributes(attribute.String("fingerprint", fingerprint))

	if s.auditPublisher != nil {
		err := s.auditPublisher.Emit(ctx, audit.ComplianceEvent{
			RunID:       r.id.String(),
			Action:      audit.EventDatasetReleased,
			Fingerprint: fingerprint,
			Decision:    rep.Status(),
			K:           rep.K,
			Records:     rep.ReleasedRecords,
			Suppressed:  rep.SuppressedCount,
		})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record release")
		}
	}
	return &models.Release{Dataset: out, Report: rep}, nil
}

// shuffle permutes rows with a PRNG seeded from configuration and writes the
// surrogate sequence 1..n into idColumn, which leads the released columns.
func (s *Service) shuffle(ds *dataset.Dataset, idColumn string, seed int64) (*dataset.Dataset, error) {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	out := ds.Select(rng.Perm(ds.Len()))
	ids := make([]dataset.Value, out.Len())
	for i := range ids {
		ids[i] = dataset.Numeric(float64(i+1), strconv.Itoa(i+1))
	}
	if err := out.SetColumn(idColumn, ids); err != nil {
		return nil, err
	}
	out.MoveColumnFirst(idColumn)
	return out, nil
}

func (s *Service) recordSteps(r *runState, steps ...models.Step) {
	for _, step := range steps {
		r.report.Steps = append(r.report.Steps, step)
		s.metrics.IncStep(step.Field, step.Scope)
	}
}

func (s *Service) emitFailure(ctx context.Context, r *runState, cause error) {
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.ComplianceEvent{
		RunID:    r.id.String(),
		Action:   audit.EventAnonymizationFailed,
		Decision: "FAIL",
		Reason:   cause.Error(),
		K:        r.cfg.K,
		Records:  r.input.Len(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record failed run",
			"run_id", r.id,
			"error", err,
		)
	}
}

func (r *runState) validate() (validate.Result, error) {
	p, err := partition.Build(r.ws.Columns()...)
	if err != nil {
		return validate.Result{}, err
	}
	return validate.Validate(p, r.cfg.K), nil
}

// nextField picks round-robin from the priority order, starting after the
// last field climbed and skipping fields at their terminal level.
func (r *runState) nextField(order []string) (string, bool) {
	for i := range order {
		idx := (r.cursor + i) % len(order)
		field := order[idx]
		qi, _ := r.cfg.QuasiIdentifier(field)
		if r.levels[field] < qi.Hierarchy.Depth() {
			r.cursor = (idx + 1) % len(order)
			return field, true
		}
	}
	return "", false
}

// releaseNumbered reports whether idColumn leads ds and numbers its rows
// 1..n in order.
func releaseNumbered(ds *dataset.Dataset, idColumn string) bool {
	if len(ds.Columns) == 0 || ds.Columns[0] != idColumn {
		return false
	}
	for i, rec := range ds.Records {
		if rec.Values[0].String() != strconv.Itoa(i+1) {
			return false
		}
	}
	return true
}

func sameValues(ds *dataset.Dataset, column string, values []dataset.Value) bool {
	current, err := ds.Column(column)
	if err != nil {
		return false
	}
	for i := range values {
		if !current[i].Equal(values[i]) {
			return false
		}
	}
	return true
}

func mergeSorted(a, b []string) []string {
	out := append(append([]string(nil), a...), b...)
	slices.Sort(out)
	return slices.Compact(out)
}

func outcome(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeConfig:
		return "config_error"
	case dErrors.CodeSchema:
		return "schema_error"
	case dErrors.CodeCompliance:
		return "compliance_error"
	default:
		return "internal_error"
	}
}
