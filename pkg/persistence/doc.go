// See bootloader.go, configstore.go, staging.go, sysparams.go and
// layout.go for the CRC-validated dual-bank flash layout, OTA staging
// flow, two-slot configuration store and wear-levelled system
// parameters region spec §4.I and §6 describe.
package persistence
