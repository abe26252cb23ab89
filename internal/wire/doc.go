// Package wire defines the requests a store sends to its transport and
// the responses it gets back.
//
// The contract per action:
//
//	open     identity only
//	create   identity, every property, per sub-store add/modify/remove
//	update   identity, changed properties, per sub-store add/modify/remove
//	destroy  identity only
//	list     folders and an optional restriction
//
// Sub-store lists carry full field data for added and modified children
// and identity only for removed ones. Only sub-stores with pending
// changes appear. Date fields are integer epoch seconds.
package wire
