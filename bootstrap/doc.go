// Package bootstrap builds the shared application context of a backbone process.
// It opens Redis stores, database pools and job queues from configuration, builds
// the job submitter on top of them and tears everything down again on shutdown.
//
// Usage:
//
//	app, err := bootstrap.NewApp(bootstrap.Options{ConfigPath: "config.yaml"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := app.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := app.Submitter.Submit(ctx, "emails", jobs.SubmitParams{
//	    Payload:    jobs.Payload{"customerId": "c1"},
//	    Identifier: "customerId",
//	})
//
//	// Wait for shutdown signal
//	app.WaitForShutdown(ctx)
package bootstrap
