package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Name() string { return "mock" }

func (m *mockClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(Verdict), args.Error(1)
}

func TestFallback(t *testing.T) {
	t.Run("primary answers", func(t *testing.T) {
		primary := new(mockClassifier)
		secondary := new(mockClassifier)
		primary.On("Classify", mock.Anything, "x").Return(Verdict{Toxic: true}, nil).Once()

		v, err := NewFallback(primary, secondary, nil).Classify(context.Background(), "x")
		require.NoError(t, err)
		assert.True(t, v.Toxic)
		primary.AssertExpectations(t)
		secondary.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	})

	t.Run("primary unavailable", func(t *testing.T) {
		primary := new(mockClassifier)
		secondary := new(mockClassifier)
		primary.On("Classify", mock.Anything, "x").Return(Verdict{}, ErrUnavailable).Once()
		secondary.On("Classify", mock.Anything, "x").Return(Verdict{Toxic: true}, nil).Once()

		v, err := NewFallback(primary, secondary, nil).Classify(context.Background(), "x")
		require.NoError(t, err)
		assert.True(t, v.Toxic)
		secondary.AssertExpectations(t)
	})

	t.Run("fallback disabled", func(t *testing.T) {
		primary := new(mockClassifier)
		secondary := new(mockClassifier)
		primary.On("Classify", mock.Anything, "x").Return(Verdict{}, ErrUnavailable).Once()
		off := func(context.Context) bool { return false }

		_, err := NewFallback(primary, secondary, off).Classify(context.Background(), "x")
		assert.ErrorIs(t, err, ErrUnavailable)
		secondary.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	})

	t.Run("other errors are not masked", func(t *testing.T) {
		primary := new(mockClassifier)
		secondary := new(mockClassifier)
		primary.On("Classify", mock.Anything, "x").Return(Verdict{}, errors.New("bad input")).Once()

		_, err := NewFallback(primary, secondary, nil).Classify(context.Background(), "x")
		assert.Error(t, err)
		secondary.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	})
}
