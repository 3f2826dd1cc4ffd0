/*
Package adapter assembles a grid file cache and the services around it from
a config.Configuration.

New wires, in order:

  - the structured logger described by the global section,
  - a metrics.Collector (serving /metrics only when enabled),
  - a container.Router reading local files, and s3:// objects when
    storage.s3.enabled is set,
  - a filecache.Cache with the configured tree cache budget,
  - a memmon.MemoryMonitor that calls the cache's reclaimer above the
    configured high watermark.

Start launches the metrics endpoint and the monitor; Stop shuts them down.
Grids obtained through the adapter stay valid after Stop.

	a, err := adapter.New(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}
	defer a.Close(ctx)

	h, err := a.Grid("s3://renders/smoke.vgrid", "density", -1)
*/
package adapter
