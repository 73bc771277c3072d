// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package htu31d controls a TE Connectivity HTU31D temperature and humidity
// sensor over I²C.
//
// The sensor measures both channels in a single conversion. Resolution is
// selectable per channel, trading conversion time for precision, and every
// 16-bit measurement word is protected by a CRC byte which the driver
// verifies before reporting a reading. The htu31d.Dev type implements the
// physic.SenseEnv interface; the physic.Env results carry a temperature and
// humidity value, the pressure is never set.
//
// # Datasheet
//
// https://www.te.com/commerce/DocumentDelivery/DDEController?Action=srchrtrv&DocNm=HTU31_RHT_SENSOR_IC&DocType=Data+Sheet&DocLang=English
package htu31d
