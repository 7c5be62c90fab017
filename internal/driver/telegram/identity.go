package telegram

import "herald/pkg/herald"

const (
	// DriverType is the driver identity registered with the kernel.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by this driver.
	DriverPlatform herald.Platform = herald.PlatformTelegram
)
