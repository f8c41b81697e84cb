// Package modelmgr owns the set of loadable model handles. It lazy-loads and
// unloads models under a global memory budget, memoizes concurrent loads of
// the same model, and serializes inference per physical device.
//
// Workers borrow a model through Acquire, run inference through Run, and give
// the lease back with Release. The lease is held only for the duration of one
// inference call; eviction only ever touches models with no outstanding lease.
package modelmgr
