// Package remotepcie implements transport.Transport for a PCIe-attached FPGA card
// exposed by a REST gateway.
//
// The gateway is addressed by a base URI and serves one or more boards, each
// identified by a host name:
//
//	GET <uri>/version                               -> {"response": "1.0.0"}
//	GET <uri>/<host>/connected?timeout=&retries=    -> {"response": bool}
//	GET <uri>/<host>/programmed                     -> {"response": bool}
//	GET <uri>/<host>/device                         -> {"response": [name, ...]}
//	GET <uri>/<host>/device/<name>?size=&offset=    -> raw bytes
//	PUT <uri>/<host>/device/<name>?offset=          -> 200 on success
//	PUT <uri>/<host>/fpgfile  (multipart "fpga")    -> 200 on success
//
// New checks the gateway version before returning a Transport, so a Transport
// always talks to a compatible gateway:
//
//	cfg, err := remotepcie.NewConfig("http://localhost:5000", "pcie0")
//	if err != nil {
//		return err
//	}
//	tr, err := remotepcie.New(ctx, cfg)
//	if err != nil {
//		return err // *transport.ConfigError when the gateway is absent or incompatible
//	}
//	defer tr.Close()
//
//	data, err := tr.Read(ctx, "version_type", 4, 0)
//
// Only HTTP 200 counts as success. Any other status is returned as a
// *transport.RemoteError carrying the decoded response body.
package remotepcie
