//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec with the go-sqlite3 driver so the vec0 probe in
	// Open succeeds. vec.Auto() marks it auto-loadable on every connection.
	vec.Auto()
}
