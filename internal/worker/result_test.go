package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayDoubles(t *testing.T) {
	t.Parallel()
	base := 60 * time.Second
	assert.Equal(t, 60*time.Second, RetryDelay(base, 0))
	assert.Equal(t, 120*time.Second, RetryDelay(base, 1))
	assert.Equal(t, 240*time.Second, RetryDelay(base, 2))
	assert.Equal(t, 480*time.Second, RetryDelay(base, 3))
}

func TestRetryDelayCap(t *testing.T) {
	t.Parallel()
	assert.Equal(t, maxRetryDelay, RetryDelay(60*time.Second, 10))
	assert.Equal(t, maxRetryDelay, RetryDelay(60*time.Second, 100))
	assert.Equal(t, maxRetryDelay, RetryDelay(time.Hour, 1))
}

func TestRetryDelayZeroBase(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Second, RetryDelay(0, 0))
	assert.Equal(t, 2*time.Second, RetryDelay(0, 1))
}

func TestOutcomeVariants(t *testing.T) {
	t.Parallel()
	ok := Ok(map[string]any{"x": 1})
	assert.Equal(t, KindOk, ok.Kind)
	assert.NoError(t, ok.Err)

	cause := errors.New("boom")
	assert.Equal(t, KindTransient, Transient(cause).Kind)
	assert.Equal(t, KindPermanent, Permanent(cause).Kind)
	assert.Equal(t, cause, Transient(cause).Err)
}

func TestMarkPermanent(t *testing.T) {
	t.Parallel()
	err := MarkPermanent(errors.New("bad payload"))
	assert.ErrorIs(t, err, ErrPermanent)
	assert.Contains(t, err.Error(), "bad payload")
}
