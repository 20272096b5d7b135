package gate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/outlet-console/internal/model"
)

type stubChecker struct {
	granted map[model.Capability]bool
	calls   int
}

func (s *stubChecker) HasCapability(tag model.Capability) bool {
	s.calls++
	return s.granted[tag]
}

func TestAuthorize(t *testing.T) {
	type want struct {
		invoked   bool
		forbidden bool
	}

	tests := []struct {
		name    string
		granted map[model.Capability]bool
		tag     model.Capability
		want    want
	}{
		{
			name: "no capability required",
			tag:  "",
			want: want{invoked: true},
		},
		{
			name:    "granted",
			granted: map[model.Capability]bool{model.CapabilityBilling: true},
			tag:     model.CapabilityBilling,
			want:    want{invoked: true},
		},
		{
			name:    "explicitly withheld",
			granted: map[model.Capability]bool{model.CapabilityBilling: false},
			tag:     model.CapabilityBilling,
			want:    want{forbidden: true},
		},
		{
			name: "unknown tag",
			tag:  "made.up",
			want: want{forbidden: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&stubChecker{granted: tt.granted})

			invoked := false
			err := g.Authorize(tt.tag, PresentationHidden, func() error {
				invoked = true
				return nil
			})

			assert.Equal(t, tt.want.invoked, invoked)
			if !tt.want.forbidden {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrForbidden))

			var denied *DeniedResult
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, tt.tag, denied.Capability)
			assert.Equal(t, PresentationHidden, denied.Presentation)
			assert.NotEmpty(t, denied.Reason)
		})
	}
}

func TestAuthorize_PropagatesActionError(t *testing.T) {
	g := New(&stubChecker{granted: map[model.Capability]bool{model.CapabilityReports: true}})
	boom := errors.New("boom")

	err := g.Authorize(model.CapabilityReports, PresentationDisabled, func() error { return boom })
	assert.Same(t, boom, err)
}

func TestCheck_ReevaluatesEveryCall(t *testing.T) {
	checker := &stubChecker{granted: map[model.Capability]bool{model.CapabilityInventory: true}}
	g := New(checker)

	assert.Nil(t, g.Check(model.CapabilityInventory, PresentationDisabled))

	checker.granted = map[model.Capability]bool{}
	denied := g.Check(model.CapabilityInventory, PresentationDisabled)
	require.NotNil(t, denied)
	assert.Equal(t, "disabled", denied.Presentation.String())
	assert.Equal(t, 2, checker.calls)
}
