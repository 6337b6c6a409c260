// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !periph_nand_gpmi_debug

package gpmi

import "go.uber.org/zap"

// defaultLogger is silent when the build tag periph_nand_gpmi_debug is not
// specified.
func defaultLogger() *zap.Logger {
	return zap.NewNop()
}
