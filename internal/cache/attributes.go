package cache

// The attribute surface: a typed name/value registry over the runtime
// options plus the read-only statistics counters. Both directions fail with
// a false return on unknown names or type mismatches, never panicking.

// Attribute sets a named option. Changes apply immediately and are visible
// to subsequent operations from any goroutine.
func (c *Core) Attribute(name string, value any) bool {
	switch name {
	case "max_open_files":
		v, ok := toInt(value)
		if !ok || v < 1 {
			return false
		}
		c.opts.maxOpenFiles.Store(v)
		c.files.enforceHandleBudget(v, nil)
		return true

	case "max_memory_MB":
		v, ok := toFloat(value)
		if !ok || v <= 0 {
			return false
		}
		c.opts.maxMemoryBytes.Store(int64(v * 1024 * 1024))
		c.tiles.evictToBudget(tileKey{})
		return true

	case "searchpath":
		v, ok := value.(string)
		if !ok {
			return false
		}
		c.opts.searchPath.Store(v)
		return true

	case "autotile":
		v, ok := toInt(value)
		if !ok || v < 0 {
			return false
		}
		c.opts.autotile.Store(v)
		return true

	case "autoscanline":
		return setBool(&c.opts.autoscanline, value)
	case "automip":
		return setBool(&c.opts.automip, value)
	case "forcefloat":
		return setBool(&c.opts.forceFloat, value)
	case "accept_untiled":
		return setBool(&c.opts.acceptUntiled, value)
	case "accept_unmipped":
		return setBool(&c.opts.acceptUnmipped, value)
	case "deduplicate":
		return setBool(&c.opts.deduplicate, value)
	case "max_open_files_strict":
		return setBool(&c.opts.maxOpenFilesStrict, value)

	case "failure_retries":
		v, ok := toInt(value)
		if !ok || v < 0 {
			return false
		}
		c.opts.failureRetries.Store(v)
		return true

	case "max_errors_per_file":
		v, ok := toInt(value)
		if !ok || v < 0 {
			return false
		}
		c.opts.maxErrorsPerFile.Store(v)
		return true

	case "reset_stats":
		c.ResetStats()
		return true
	}
	return false
}

// GetAttribute reads a named option or statistic into out, which must be a
// pointer of the attribute's type.
func (c *Core) GetAttribute(name string, out any) bool {
	switch name {
	case "max_open_files":
		return putInt(out, c.opts.maxOpenFiles.Load())
	case "max_memory_MB":
		return putFloat(out, float64(c.opts.maxMemoryBytes.Load())/(1024*1024))
	case "searchpath":
		return putString(out, c.opts.getSearchPath())
	case "autotile":
		return putInt(out, c.opts.autotile.Load())
	case "autoscanline":
		return putBool(out, c.opts.autoscanline.Load())
	case "automip":
		return putBool(out, c.opts.automip.Load())
	case "forcefloat":
		return putBool(out, c.opts.forceFloat.Load())
	case "accept_untiled":
		return putBool(out, c.opts.acceptUntiled.Load())
	case "accept_unmipped":
		return putBool(out, c.opts.acceptUnmipped.Load())
	case "deduplicate":
		return putBool(out, c.opts.deduplicate.Load())
	case "max_open_files_strict":
		return putBool(out, c.opts.maxOpenFilesStrict.Load())
	case "failure_retries":
		return putInt(out, c.opts.failureRetries.Load())
	case "max_errors_per_file":
		return putInt(out, c.opts.maxErrorsPerFile.Load())

	case "total_files":
		return putInt(out, int64(c.files.totalFiles()))
	case "all_filenames":
		p, ok := out.(*[]string)
		if !ok {
			return false
		}
		*p = c.files.allFilenames()
		return true
	}

	snap := c.stats.Snapshot()
	switch name {
	case "stat:find_tile_calls":
		return putInt(out, snap.FindTileCalls)
	case "stat:find_tile_microcache_misses":
		return putInt(out, snap.FindTileMicroMisses)
	case "stat:find_tile_cache_misses":
		return putInt(out, snap.FindTileCacheMisses)
	case "stat:tiles_created":
		return putInt(out, snap.TilesCreated)
	case "stat:tiles_current":
		return putInt(out, snap.TilesCurrent)
	case "stat:tiles_peak":
		return putInt(out, snap.TilesPeak)
	case "stat:cache_memory_used":
		return putInt(out, snap.CacheBytes)
	case "stat:cache_memory_peak":
		return putInt(out, snap.CacheBytesPeak)
	case "stat:open_files_created":
		return putInt(out, snap.OpensCreated)
	case "stat:open_files_current":
		return putInt(out, snap.OpensCurrent)
	case "stat:open_files_peak":
		return putInt(out, snap.OpensPeak)
	case "stat:unique_files":
		return putInt(out, snap.UniqueFiles)
	case "stat:bytes_read":
		return putInt(out, snap.BytesRead)
	case "stat:redundant_tiles":
		return putInt(out, snap.RedundantTiles)
	case "stat:redundant_bytesread":
		return putInt(out, snap.RedundantBytes)
	case "stat:fileio_time":
		return putFloat(out, snap.FileIOTime.Seconds())
	case "stat:fileopen_time":
		return putFloat(out, snap.FileOpenTime.Seconds())
	case "stat:tile_wait_time":
		return putFloat(out, snap.TileWaitTime.Seconds())
	case "stat:image_size":
		return putInt(out, snap.ImageSizeBytes)
	case "stat:file_size":
		return putInt(out, snap.FileSizeBytes)
	}
	return false
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		if i, ok := toInt(v); ok {
			return float64(i), true
		}
		return 0, false
	}
}

func toBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	default:
		if i, ok := toInt(v); ok {
			return i != 0, true
		}
		return false, false
	}
}

func setBool(dst interface{ Store(bool) }, v any) bool {
	b, ok := toBool(v)
	if !ok {
		return false
	}
	dst.Store(b)
	return true
}

func putInt(out any, v int64) bool {
	switch p := out.(type) {
	case *int:
		*p = int(v)
	case *int64:
		*p = v
	default:
		return false
	}
	return true
}

func putFloat(out any, v float64) bool {
	p, ok := out.(*float64)
	if !ok {
		return false
	}
	*p = v
	return true
}

func putBool(out any, v bool) bool {
	p, ok := out.(*bool)
	if !ok {
		return false
	}
	*p = v
	return true
}

func putString(out any, v string) bool {
	p, ok := out.(*string)
	if !ok {
		return false
	}
	*p = v
	return true
}
