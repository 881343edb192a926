package deferred

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xprocessing/neoaigc/internal/domain"
)

func TestConsumeReturnsLastDeferred(t *testing.T) {
	r := NewRegistry()
	a1 := NewTextToImage(TextToImage{Prompt: "first"})
	a2 := NewFaceSwap(FaceSwap{Model: File{Name: "m.png", Data: []byte{1}}, Face: File{Name: "f.png", Data: []byte{2}}})

	require.NoError(t, r.Defer(a1))
	require.NoError(t, r.Defer(a2))

	got, ok := r.Consume()
	require.True(t, ok)
	assert.Equal(t, a2, got)

	_, ok = r.Consume()
	assert.False(t, ok, "second consume must report absence")
}

func TestDiscardClearsWithoutReturning(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Defer(NewTextToImage(TextToImage{Prompt: "x"})))
	r.Discard()

	_, ok := r.Pending()
	assert.False(t, ok)
	_, ok = r.Consume()
	assert.False(t, ok)
}

func TestPendingDoesNotConsume(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Defer(NewTextToImage(TextToImage{Prompt: "x"})))

	p, ok := r.Pending()
	require.True(t, ok)
	assert.Equal(t, domain.ModalityTextToImage, p.Modality)

	_, ok = r.Consume()
	assert.True(t, ok)
}

func TestDeferRejectsMismatchedTag(t *testing.T) {
	r := NewRegistry()
	err := r.Defer(PendingAction{Modality: domain.ModalityFaceSwap, TextToImage: &TextToImage{Prompt: "x"}})
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = r.Defer(PendingAction{Modality: domain.ModalityTextToImage})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, ok := r.Pending()
	assert.False(t, ok, "rejected actions must not occupy the slot")
}

func TestConcurrentConsumeYieldsActionOnce(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Defer(NewTextToImage(TextToImage{Prompt: "once"})))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		hits int
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Consume(); ok {
				mu.Lock()
				hits++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, hits)
}

func TestNewBatchMattingCopiesImages(t *testing.T) {
	images := []File{{Name: "a.png", Data: []byte{1}}}
	a := NewBatchMatting(BatchMatting{Images: images})
	images[0] = File{Name: "changed.png"}
	assert.Equal(t, "a.png", a.BatchMatting.Images[0].Name)
}
