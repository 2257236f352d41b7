// Package mockhttp builds scripted HTTP servers for gateway client tests.
//
// Routes are matched in registration order; the first handler that claims a
// request answers it:
//
//	server := mockhttp.New().
//		Envelope("/version", "1.0.0").
//		StatusWithBody("/pcie0/device/*", http.StatusInternalServerError, `{"response":"bus error"}`).
//		Build()
//	defer server.Close()
//
// Paths support exact match and prefix match with a "*" suffix. Capture records
// every request for later assertions:
//
//	b := mockhttp.New().Envelope("/version", "1.0.0")
//	capture := b.Capture()
//	server := b.Build()
//	...
//	last := capture.Last()
package mockhttp
