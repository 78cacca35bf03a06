// Package device provides the radio-neutral view of Bluetooth Low Energy
// scanning used by the collector and scanner packages.
//
// It defines:
//   - Advertisement, a single advertisement observation
//   - Radio, a start/stop scanning facility delivering advertisements
//   - Sentinel errors for adapter state and authorization failures
package device
