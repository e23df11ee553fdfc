/*
Package client provides a Go client for the Amino admin HTTP API.

The amino CLI uses it to inspect and steer a running runtime. The runtime
holds the storage lock, so commands such as "amino queue status" or
"amino backup create" go through the API rather than opening the data
directory themselves.

# Usage

	c, err := client.NewClient("127.0.0.1:8090")
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.ForceSync(ctx)
	if client.IsStatus(err, http.StatusServiceUnavailable) {
		fmt.Println("offline, actions stay queued")
	}

Every call is bounded by DefaultTimeout unless SetTimeout changes it.
Non-2xx answers are returned as *APIError carrying the status code and the
server's error message.
*/
package client
