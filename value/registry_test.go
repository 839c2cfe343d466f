package value

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterResolveRelease(t *testing.T) {
	reg := NewRegistry()
	x := 42
	p := unsafe.Pointer(&x)

	addr := reg.Register(p)
	require.NotZero(t, addr)

	got, ok := reg.Resolve(addr)
	require.True(t, ok)
	require.Equal(t, p, got)

	releasedAddr, ok := reg.Release(p)
	require.True(t, ok)
	require.Equal(t, addr, releasedAddr)

	_, ok = reg.Resolve(addr)
	require.False(t, ok, "a released address must resolve as absent")
}

func TestFromPtrAsPtrReleasePtrRoundTrip(t *testing.T) {
	reg := NewRegistry()
	x := 7
	p := unsafe.Pointer(&x)

	v := reg.FromPtr(p)
	require.True(t, v.IsPtr())

	got, ok := reg.AsPtr(v)
	require.True(t, ok)
	require.Equal(t, p, got)

	reg.ReleasePtr(v)

	_, ok = reg.AsPtr(v)
	require.False(t, ok, "as_ptr must report absent once the backing address has been released")
}

func TestRegisterIsIdempotentForTheSamePointer(t *testing.T) {
	reg := NewRegistry()
	x := 1
	p := unsafe.Pointer(&x)

	addr1 := reg.Register(p)
	addr2 := reg.Register(p)
	require.Equal(t, addr1, addr2)
	require.EqualValues(t, 1, reg.Count())
}

func TestCountTracksRegisterAndRelease(t *testing.T) {
	reg := NewRegistry()
	a, b := 1, 2

	reg.Register(unsafe.Pointer(&a))
	require.EqualValues(t, 1, reg.Count())
	reg.Register(unsafe.Pointer(&b))
	require.EqualValues(t, 2, reg.Count())

	reg.Release(unsafe.Pointer(&a))
	require.EqualValues(t, 1, reg.Count())
}

func TestReleaseOfUnregisteredPointerReportsAbsent(t *testing.T) {
	reg := NewRegistry()
	x := 1
	_, ok := reg.Release(unsafe.Pointer(&x))
	require.False(t, ok)
}

func TestReleaseThenReuseBumpsGeneration(t *testing.T) {
	reg := NewRegistry()
	x := 1
	p := unsafe.Pointer(&x)

	addr := reg.Register(p)
	gen1, ok := reg.debugGeneration(addr)
	require.True(t, ok)

	reg.Release(p)
	reg.Register(p)
	gen2, ok := reg.debugGeneration(addr)
	require.True(t, ok)

	require.Greater(t, gen2, gen1, "re-registering the same address must bump its generation")
}

func TestResetClearsEveryShard(t *testing.T) {
	reg := NewRegistry()
	x := 1
	addr := reg.Register(unsafe.Pointer(&x))

	reg.Reset()

	require.Zero(t, reg.Count())
	_, ok := reg.Resolve(addr)
	require.False(t, ok)
}
