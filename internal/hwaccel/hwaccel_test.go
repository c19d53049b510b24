package hwaccel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccelerator struct {
	t    Type
	name string
}

func (f *fakeAccelerator) Type() Type                                { return f.t }
func (f *fakeAccelerator) SetupDecoder(any) error                    { return nil }
func (f *fakeAccelerator) TransferToHost(hw any) (any, error)        { return hw, nil }
func (f *fakeAccelerator) DeviceName() string                        { return f.name }
func (f *fakeAccelerator) DeviceIndex() int                          { return 0 }
func (f *fakeAccelerator) Close() error                              { return nil }

func TestCreateNoneReturnsNilWithoutError(t *testing.T) {
	acc, err := Create(TypeNone, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, acc)
}

func TestCreateUnregisteredBackendFails(t *testing.T) {
	_, err := Create(TypeCUDA, 0, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestAutoFallsBackToFirstRegisteredInPriorityOrder(t *testing.T) {
	Register(TypeVAAPI, func(idx int, create func(Type, int) (any, error)) (Accelerator, error) {
		return &fakeAccelerator{t: TypeVAAPI, name: "vaapi0"}, nil
	})
	defer func() {
		registryMu.Lock()
		delete(registry, TypeVAAPI)
		registryMu.Unlock()
	}()

	acc, err := Create(TypeAuto, 0, nil)
	require.NoError(t, err)
	require.NotNil(t, acc)
	assert.Equal(t, TypeVAAPI, acc.Type())
}

func TestEnumerateReportsRegisteredBackendAsAvailable(t *testing.T) {
	Register(TypeQSV, func(idx int, create func(Type, int) (any, error)) (Accelerator, error) {
		return &fakeAccelerator{t: TypeQSV}, nil
	})
	defer func() {
		registryMu.Lock()
		delete(registry, TypeQSV)
		registryMu.Unlock()
	}()

	infos := Enumerate(context.Background())
	found := false
	for _, info := range infos {
		if info.Type == TypeQSV {
			found = true
			assert.True(t, info.Available)
		}
	}
	assert.True(t, found)
}
