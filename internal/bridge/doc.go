// Package bridge exposes a line-oriented stdio backend over HTTP.
//
// An Owner holds the single backend process and serializes exchanges with it.
// A Server accepts JSON-RPC messages on POST /mcp, forwards each one to the
// Owner and returns the backend's answer as the response body:
//
//	m := metrics.New()
//
//	owner, err := bridge.NewOwner(log, &bridge.OwnerConfig{
//	    Process: subprocess.Config{Path: "mcp-server-wazuh"},
//	}, m)
//	if err != nil {
//	    return err
//	}
//	defer owner.Close()
//
//	return bridge.NewServer(log, opts, owner, m).Run(ctx)
package bridge
