// Package acquisition implements the Acquisition Drivers (spec §4.D,
// Component D): per-tick ADC sampling with input-type-specific
// processing and digital-input debounce/frequency capture, publishing
// scaled values into the Channel Registry.
//
// Hardware access is abstracted behind ADCSource and DigitalSource so
// the package builds and tests without a board present, the way
// seedhammer-seedhammer's input driver keeps the periph.io pin
// interfaces (gpio.PinIO, physic.ElectricPotential) at the boundary
// and everything above them platform-agnostic.
package acquisition
