package influxdb

// Flush blocks until buffered points reach the server.
func Flush(c *Client) {
	if c.open() {
		c.writes.Flush()
	}
}
