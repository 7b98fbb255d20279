package pdf

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDoc struct {
	pages  int
	closed bool
}

func (s *stubDoc) NumPage() int { return s.pages }

func (s *stubDoc) Layout(page int) (*PageLayout, error) {
	return &PageLayout{Number: page + 1}, nil
}

func (s *stubDoc) Render(page int, dpi float64) (image.Image, error) {
	return nil, nil
}

func (s *stubDoc) Close() error {
	s.closed = true
	return nil
}

func TestWorker_SerializesRequests(t *testing.T) {
	doc := &stubDoc{pages: 3}
	w, err := StartWorker("in.pdf", func(string) (Document, error) { return doc, nil })
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		active int
		maxAct int
		seen   []int
		wg     sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Do(context.Background(), func(d Document) error {
				mu.Lock()
				active++
				if active > maxAct {
					maxAct = active
				}
				mu.Unlock()

				l, err := d.Layout(i % d.NumPage())
				mu.Lock()
				seen = append(seen, l.Number)
				active--
				mu.Unlock()
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxAct)
	assert.Len(t, seen, 20)

	require.NoError(t, w.Close())
	assert.True(t, doc.closed)
	// second close is a no-op
	require.NoError(t, w.Close())
}

func TestWorker_OpenError(t *testing.T) {
	boom := errors.New("boom")
	w, err := StartWorker("bad.pdf", func(string) (Document, error) { return nil, boom })
	assert.Nil(t, w)
	assert.ErrorIs(t, err, boom)
}

func TestWorker_ClosedAndCancelled(t *testing.T) {
	w, err := StartWorker("in.pdf", func(string) (Document, error) { return &stubDoc{pages: 1}, nil })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err = w.Do(ctx, func(Document) error { called = true; return nil })
	// either the cancelled context or the send may win; fn must not run on a cancelled ctx
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	}

	require.NoError(t, w.Close())
	err = w.Do(context.Background(), func(Document) error { return nil })
	assert.ErrorIs(t, err, ErrWorkerClosed)
}

func TestWorker_RecoversPanic(t *testing.T) {
	w, err := StartWorker("in.pdf", func(string) (Document, error) { return &stubDoc{pages: 1}, nil })
	require.NoError(t, err)
	defer w.Close()

	err = w.Do(context.Background(), func(Document) error { panic("bad page") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad page")

	// the worker keeps serving
	assert.NoError(t, w.Do(context.Background(), func(d Document) error {
		assert.Equal(t, 1, d.NumPage())
		return nil
	}))
}
