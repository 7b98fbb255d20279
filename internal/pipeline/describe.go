package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/spherical/pdf-enricher/internal/domain"
	"github.com/spherical/pdf-enricher/internal/vision"
)

// describe sends every unit to the provider concurrently. Results land on
// the units themselves. A cancelled job returns at once; in-flight calls see
// the cancelled context and are abandoned.
func (r *run) describe(ctx context.Context, pages []*pageWork) error {
	var units []*unit
	for _, pw := range pages {
		units = append(units, pw.units...)
	}
	if len(units) == 0 {
		return nil
	}

	r.progress.update(func(p *domain.JobProgress) {
		p.Phase = domain.PhaseDescribing
		p.Message = fmt.Sprintf("Describing %d images", len(units))
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return r.describeUnit(gctx, u)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if ctx.Err() != nil {
			return domain.CancellationError("job cancelled", ctx.Err())
		}
		return err
	case <-ctx.Done():
		return domain.CancellationError("job cancelled", ctx.Err())
	}
}

func (r *run) describeUnit(ctx context.Context, u *unit) error {
	if err := ctx.Err(); err != nil {
		return domain.CancellationError("job cancelled", err)
	}

	img := vision.PNG(u.png)
	var (
		text string
		err  error
	)
	if te, ok := r.provider.(vision.TableExtractor); ok && u.kind == unitTable {
		text, err = te.ExtractTable(ctx, img, u.prompt)
	} else {
		text, err = r.provider.Describe(ctx, img, u.prompt)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.CancellationError("job cancelled", ctxErr)
	}

	if err == nil {
		u.text = text
		u.ok = true
		r.described(u)
		return nil
	}

	switch {
	case vision.IsAuth(err), domain.IsType(err, domain.ErrorTypeConfig), domain.IsType(err, domain.ErrorTypeCancelled):
		return err
	case vision.IsTransient(err) && u.kind == unitFullPage:
		return fmt.Errorf("page %d: %w", u.page, err)
	}

	r.warn(fmt.Sprintf("page %d %s: %v", u.page, u.label(), err))
	if u.kind != unitTable {
		u.text = fmt.Sprintf("[Description unavailable: %v]", err)
		r.described(u)
	}
	return nil
}

func (r *run) described(u *unit) {
	if u.kind == unitTable {
		return
	}
	r.progress.update(func(p *domain.JobProgress) {
		p.ImagesProcessed++
		p.CurrentPage = u.page
	})
}
