// Package restriction describes filters for list loads.
//
// A Restriction is a sealed tree of conditions over record fields, modeled
// on MAPI restrictions: And, Or, Not, Property, CompareProps, Content,
// Bitmask, Size, Exist and SubRestriction. Stores send restrictions with
// list requests; the backend compiles them to SQL; Match evaluates them
// in memory so a store can decide whether a record created elsewhere
// belongs in its view.
//
// Restrictions encode to JSON through Envelope:
//
//	{"type":"property","field":"subject","op":"eq","value":"Lunch"}
//
// Restrictions are plain values. Build them with struct literals or the
// helper constructors and do not modify them after handing them to a
// store.
package restriction
