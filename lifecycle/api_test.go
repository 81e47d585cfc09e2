package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSubsystem struct {
	name string
	upErr error
	downErr error
	trace *[]string
}

func (f *fakeSubsystem) Up() error {
	*f.trace = append(*f.trace, "up:"+f.name)
	return f.upErr
}

func (f *fakeSubsystem) Down() error {
	*f.trace = append(*f.trace, "down:"+f.name)
	return f.downErr
}

func resetRegistrations() {
	registrations = nil
}

func TestUpStartsInRegistrationOrder(t *testing.T) {
	resetRegistrations()
	defer resetRegistrations()

	var trace []string
	Register("a", &fakeSubsystem{name: "a", trace: &trace})
	Register("b", &fakeSubsystem{name: "b", trace: &trace})

	require.NoError(t, Up())
	require.Equal(t, []string{"up:a", "up:b"}, trace)
}

func TestDownStopsInReverseOrder(t *testing.T) {
	resetRegistrations()
	defer resetRegistrations()

	var trace []string
	Register("a", &fakeSubsystem{name: "a", trace: &trace})
	Register("b", &fakeSubsystem{name: "b", trace: &trace})

	require.NoError(t, Up())
	trace = nil
	require.NoError(t, Down())
	require.Equal(t, []string{"down:b", "down:a"}, trace)
}

func TestUpUnwindsAlreadyStartedSubsystemsOnFailure(t *testing.T) {
	resetRegistrations()
	defer resetRegistrations()

	var trace []string
	wantErr := errors.New("boom")
	Register("a", &fakeSubsystem{name: "a", trace: &trace})
	Register("b", &fakeSubsystem{name: "b", trace: &trace, upErr: wantErr})
	Register("c", &fakeSubsystem{name: "c", trace: &trace})

	err := Up()
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, []string{"up:a", "up:b", "down:a"}, trace)
}

func TestDownContinuesPastErrorsAndReturnsFirst(t *testing.T) {
	resetRegistrations()
	defer resetRegistrations()

	var trace []string
	firstErr := errors.New("first")
	Register("a", &fakeSubsystem{name: "a", trace: &trace, downErr: firstErr})
	Register("b", &fakeSubsystem{name: "b", trace: &trace, downErr: errors.New("second")})

	err := Down()
	require.ErrorIs(t, err, firstErr)
	require.Equal(t, []string{"down:b", "down:a"}, trace)
}
