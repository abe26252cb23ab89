// Package ir provides the value model for record field data.
//
// Every field value held by a record is an IRValue. The set of value
// types is sealed so that equality, deep copies and canonical encoding
// are total functions over the whole model.
//
// Key constraints:
//   - NO float types anywhere - use int64 for numbers
//   - Dates are IRTime with second precision (epoch seconds on the wire)
//   - Arrays and objects never alias after Clone
//   - ir imports nothing internal
package ir
