// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package htu31d

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/htu31d/common"
)

const (
	// DefaultAddress is the factory-programmed I2C address of the sensor.
	DefaultAddress i2c.Addr = 0x40
)

const (
	// byte commands for device.
	cmdReadSerial      byte = 0x0a
	cmdSoftReset       byte = 0x1e
	cmdHeaterOn        byte = 0x04
	cmdHeaterOff       byte = 0x02
	cmdStartConversion byte = 0x40
	cmdReadResult      byte = 0x00

	// The resolution selectors ride inside the conversion command byte.
	humidityResolutionShift    = 4
	temperatureResolutionShift = 2
	resolutionMask             = byte(0x03)

	countDivisor = float64(65535)

	// The device needs 15ms after a soft reset before it accepts commands.
	resetDuration = 15 * time.Millisecond
	// Worst case conversion time across all resolution settings.
	conversionDuration = 20 * time.Millisecond

	minRH = 0 * physic.PercentRH
	maxRH = 100 * physic.PercentRH

	minSampleDuration = conversionDuration
)

// HumidityResolutions lists the accepted humidity resolution settings, in
// %RH per LSB. The slice index is the selector value written to the device.
// Higher indexes give finer readings at the cost of conversion time.
var HumidityResolutions = []string{"0.020%", "0.014%", "0.010%", "0.007%"}

// TemperatureResolutions lists the accepted temperature resolution settings,
// in degrees Celsius per LSB. The slice index is the selector value written
// to the device.
var TemperatureResolutions = []string{"0.040", "0.025", "0.016", "0.012"}

// Precision steps corresponding to the resolution tables above.
var humidityPrecisions = []physic.RelativeHumidity{200 * physic.MicroRH, 140 * physic.MicroRH, 100 * physic.MicroRH, 70 * physic.MicroRH}
var temperaturePrecisions = []physic.Temperature{40 * physic.MilliKelvin, 25 * physic.MilliKelvin, 16 * physic.MilliKelvin, 12 * physic.MilliKelvin}

// ErrInvalidCRC is returned by Sense when a measurement word does not match
// the CRC byte the device sent with it. The reading is discarded and the
// device remains usable; the caller decides whether to retry.
var ErrInvalidCRC = errors.New("htu31d: invalid crc")

// ErrInvalidResolution is returned when a resolution setter is given a label
// outside the fixed sets above. The conversion command is left untouched.
var ErrInvalidResolution = errors.New("htu31d: unknown resolution")

// Dev represents an HTU31D temperature/humidity sensor.
type Dev struct {
	d        *i2c.Dev
	shutdown chan struct{}
	mu       sync.Mutex
	// Conversion command byte, including the resolution selector bits.
	conversion byte
	// The device has no readback for the heater, so mirror the last write.
	heater bool
}

// NewI2C returns a new HTU31D sensor using the specified bus and address.
// The device is soft-reset as part of construction, so all settings start at
// their power-on defaults.
func NewI2C(b i2c.Bus, addr i2c.Addr) (*Dev, error) {
	dev := &Dev{d: &i2c.Dev{Bus: b, Addr: uint16(addr)}, conversion: cmdStartConversion}
	return dev, dev.Reset()
}

// Reset issues a soft-reset to the device and restores the cached conversion
// command and heater state to their power-on defaults. It blocks for the
// 15ms the device needs to settle before accepting further commands.
func (dev *Dev) Reset() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.d.Tx([]byte{cmdSoftReset}, nil); err != nil {
		return fmt.Errorf("htu31d: error resetting %w", err)
	}
	dev.conversion = cmdStartConversion
	dev.heater = false
	time.Sleep(resetDuration)
	return nil
}

// SerialNumber returns the device's unique 32-bit serial number set at the
// factory.
func (dev *Dev) SerialNumber() (uint32, error) {
	r := make([]byte, 4)
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.d.Tx([]byte{cmdReadSerial}, r); err != nil {
		return 0, fmt.Errorf("htu31d: error reading serial number %w", err)
	}
	return uint32(r[0])<<24 | uint32(r[1])<<16 | uint32(r[2])<<8 | uint32(r[3]), nil
}

// SetHeater turns the sensor's integrated heater element on or off. The
// heater can be used to remove condensation from the sensing element. The
// requested state is cached for Heater(); it does not affect conversions.
func (dev *Dev) SetHeater(on bool) error {
	cmd := cmdHeaterOff
	if on {
		cmd = cmdHeaterOn
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.d.Tx([]byte{cmd}, nil); err != nil {
		return fmt.Errorf("htu31d: error setting heater %w", err)
	}
	dev.heater = on
	return nil
}

// Heater returns the last heater state written to the device. The device
// exposes no readback for the heater, so no bus transaction takes place.
func (dev *Dev) Heater() bool {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.heater
}

func resolutionIndex(labels []string, label string) int {
	for ix, l := range labels {
		if l == label {
			return ix
		}
	}
	return -1
}

// SetHumidityResolution selects the humidity resolution for subsequent
// conversions. resolution must be one of the HumidityResolutions values.
// The selector takes effect with the next conversion command; no bus
// transaction happens here.
func (dev *Dev) SetHumidityResolution(resolution string) error {
	ix := resolutionIndex(HumidityResolutions, resolution)
	if ix < 0 {
		return fmt.Errorf("htu31d: humidity resolution %q: %w", resolution, ErrInvalidResolution)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.conversion = dev.conversion&^(resolutionMask<<humidityResolutionShift) | byte(ix)<<humidityResolutionShift
	return nil
}

// HumidityResolution returns the currently selected humidity resolution as
// one of the HumidityResolutions values.
func (dev *Dev) HumidityResolution() string {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return HumidityResolutions[(dev.conversion>>humidityResolutionShift)&resolutionMask]
}

// SetTemperatureResolution selects the temperature resolution for subsequent
// conversions. resolution must be one of the TemperatureResolutions values.
func (dev *Dev) SetTemperatureResolution(resolution string) error {
	ix := resolutionIndex(TemperatureResolutions, resolution)
	if ix < 0 {
		return fmt.Errorf("htu31d: temperature resolution %q: %w", resolution, ErrInvalidResolution)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	dev.conversion = dev.conversion&^(resolutionMask<<temperatureResolutionShift) | byte(ix)<<temperatureResolutionShift
	return nil
}

// TemperatureResolution returns the currently selected temperature
// resolution as one of the TemperatureResolutions values.
func (dev *Dev) TemperatureResolution() string {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return TemperatureResolutions[(dev.conversion>>temperatureResolutionShift)&resolutionMask]
}

// convert the count to a temperature value.
func countToTemp(count uint16) physic.Temperature {
	// T=-40+165*(count/countDivisor)
	return physic.Temperature(float64(physic.Kelvin)*(-40.0+165.0*(float64(count)/countDivisor))) + physic.ZeroCelsius
}

func countToHumidity(count uint16) physic.RelativeHumidity {
	// RH=100*(count/countDivisor)
	val := physic.RelativeHumidity(100.0 * (float64(count) / countDivisor) * float64(physic.PercentRH))
	if val < minRH {
		val = minRH
	} else if val > maxRH {
		val = maxRH
	}
	return val
}

// Sense starts a combined temperature/humidity conversion at the selected
// resolutions, blocks for the conversion time, reads the result back and
// writes it to env. Both 16-bit words are checked against their CRC bytes;
// on a mismatch ErrInvalidCRC is returned and the reading is discarded.
// Implements physic.SenseEnv.
func (dev *Dev) Sense(env *physic.Env) error {
	env.Temperature = 0
	env.Pressure = 0
	env.Humidity = 0
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if err := dev.d.Tx([]byte{dev.conversion}, nil); err != nil {
		return fmt.Errorf("htu31d: error starting conversion %w", err)
	}
	time.Sleep(conversionDuration)
	r := make([]byte, 6)
	if err := dev.d.Tx([]byte{cmdReadResult}, r); err != nil {
		return fmt.Errorf("htu31d: error reading conversion %w", err)
	}
	// The result is temperature word, CRC, humidity word, CRC.
	tCount := uint16(r[0])<<8 | uint16(r[1])
	hCount := uint16(r[3])<<8 | uint16(r[4])
	if common.CRC8Word(tCount) != r[2] || common.CRC8Word(hCount) != r[5] {
		return ErrInvalidCRC
	}
	env.Temperature = countToTemp(tCount)
	env.Humidity = countToHumidity(hCount)
	return nil
}

// Temperature performs a full conversion and returns the temperature. The
// device has no single-channel mode, so this costs the same as Sense.
func (dev *Dev) Temperature() (physic.Temperature, error) {
	env := physic.Env{}
	if err := dev.Sense(&env); err != nil {
		return 0, err
	}
	return env.Temperature, nil
}

// Humidity performs a full conversion and returns the relative humidity.
func (dev *Dev) Humidity() (physic.RelativeHumidity, error) {
	env := physic.Env{}
	if err := dev.Sense(&env); err != nil {
		return 0, err
	}
	return env.Humidity, nil
}

// SenseContinuous continuously reads from the device and sends the output
// to the returned channel. To terminate the read, call Dev.Halt()
func (dev *Dev) SenseContinuous(interval time.Duration) (<-chan physic.Env, error) {
	if dev.shutdown != nil {
		return nil, errors.New("htu31d: SenseContinuous already running")
	}

	if interval < minSampleDuration {
		return nil, errors.New("htu31d: sample interval is < device sample rate")
	}
	dev.shutdown = make(chan struct{})
	ch := make(chan (physic.Env), 16)
	go func(ch chan<- physic.Env) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-dev.shutdown:
				dev.mu.Lock()
				defer dev.mu.Unlock()
				dev.shutdown = nil
				return
			case <-ticker.C:
				env := physic.Env{}
				if err := dev.Sense(&env); err == nil {
					ch <- env
				}
			}
		}
	}(ch)
	return ch, nil
}

// Halt terminates a SenseContinuous command if running. Implements
// conn.Resource.
func (dev *Dev) Halt() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if dev.shutdown != nil {
		close(dev.shutdown)
	}
	return nil
}

// Precision returns the smallest change in readings the device can produce
// at the currently selected resolutions. Implements physic.SenseEnv.
func (dev *Dev) Precision(env *physic.Env) {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	env.Temperature = temperaturePrecisions[(dev.conversion>>temperatureResolutionShift)&resolutionMask]
	env.Humidity = humidityPrecisions[(dev.conversion>>humidityResolutionShift)&resolutionMask]
	env.Pressure = 0
}

// String returns a string representation of the device.
func (dev *Dev) String() string {
	return "htu31d"
}

var _ conn.Resource = &Dev{}
var _ physic.SenseEnv = &Dev{}
