//go:build !darwin

package ble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"
)

func TestTinyGoPermissions(t *testing.T) {
	assert.Equal(t,
		bluetooth.CharacteristicReadPermission|bluetooth.CharacteristicWritePermission|bluetooth.CharacteristicNotifyPermission,
		tinygoPermissions(DefaultProperties))
	assert.Equal(t, bluetooth.CharacteristicReadPermission, tinygoPermissions(PropRead))
	assert.Zero(t, tinygoPermissions(0))
}

func TestTinyGoCharacteristicBeforeStart(t *testing.T) {
	server := &tinygoServer{}
	svc, err := server.CreateService(testService)
	require.NoError(t, err)

	char, err := svc.CreateCharacteristic(testChar, DefaultProperties)
	require.NoError(t, err)

	char.SetValue([]byte("0"))
	assert.Equal(t, []byte("0"), char.Value())
	assert.ErrorIs(t, char.Notify(), errNotPublished)

	cfg := char.(*tinygoCharacteristic).config()
	assert.Equal(t, []byte("0"), cfg.Value)
	assert.Equal(t, tinygoPermissions(DefaultProperties), cfg.Flags)
}

func TestTinyGoInvalidUUID(t *testing.T) {
	server := &tinygoServer{}
	_, err := server.CreateService("not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidUUID)

	adv := &tinygoAdvertising{}
	assert.ErrorIs(t, adv.AddServiceUUID("zz"), ErrInvalidUUID)
}

func TestTinyGoAdvertisingDedup(t *testing.T) {
	adv := &tinygoAdvertising{}
	require.NoError(t, adv.AddServiceUUID(testService))
	require.NoError(t, adv.AddServiceUUID(testService))
	assert.Len(t, adv.uuids, 1)

	adv.SetName("ESP32Actividad")
	adv.SetScanResponse(true)
	assert.Equal(t, "ESP32Actividad", adv.name, "scan response leaves the payload alone")
	assert.Len(t, adv.uuids, 1)
	require.NoError(t, adv.Stop(), "stop before start is a no-op")
}

func TestTinyGoWriteEvent(t *testing.T) {
	c := &tinygoCharacteristic{uuid: testChar}
	var got []byte
	c.OnWrite(func(b []byte) { got = b })

	var conn bluetooth.Connection
	c.handleWrite(conn, 0, []byte("abc"))

	assert.Equal(t, []byte("abc"), got)
	assert.Equal(t, []byte("abc"), c.Value())
}
