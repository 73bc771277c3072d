// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package htu31d_test

import (
	"log"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
	"periph.io/x/htu31d"
)

// Example shows creating an HTU31D sensor and reading from it.
func Example() {
	if _, err := host.Init(); err != nil {
		log.Fatal("Error calling host.init()")
	}
	bus, err := i2creg.Open("")
	if err != nil {
		log.Fatal(err)
	}
	defer bus.Close()

	dev, err := htu31d.NewI2C(bus, htu31d.DefaultAddress)
	if err != nil {
		log.Fatal(err)
	}

	// Trade conversion time for the finest humidity readings.
	if err := dev.SetHumidityResolution("0.007%"); err != nil {
		log.Fatal(err)
	}

	env := &physic.Env{}

	for i := 0; i < 10; i++ {
		err = dev.Sense(env)
		if err != nil {
			log.Println(err)
		} else {
			log.Printf("Temperature: %s   Humidity: %s\n", env.Temperature, env.Humidity)
		}
		time.Sleep(time.Second)
	}
}
