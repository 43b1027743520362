// Package gatt models the GATT object tree exposed by the peripheral.
//
// The tree has three node kinds:
//   - Application: the root, enumerates the whole hierarchy (ObjectManager)
//   - Service: a GattService1 node owning an ordered set of characteristics
//   - Characteristic: a GattCharacteristic1 leaf whose value is computed on demand
//
// Each node answers property queries for its own interface through the
// PropertyProvider capability. The tree is built once, frozen before registration,
// and read concurrently afterwards without locking.
package gatt
