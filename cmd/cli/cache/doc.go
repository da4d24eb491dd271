// Package cache provides the cache serve and cache clean commands.
package cache
