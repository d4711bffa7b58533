package offdata

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpFetchClient implements FetchClient over FTP/FTPS, mapping the
// HEAD/GET-with-Range contract onto SIZE/RETR/REST. A fresh connection is
// opened per Fetch, matching the sftp adapter's approach for the same
// reason: ftp/ftps targets are the exception, not the steady-state load,
// for this manager.
type ftpFetchClient struct{}

// NewFTPFetchClient creates a FetchClient for ftp:// and ftps:// URLs.
func NewFTPFetchClient() FetchClient {
	return &ftpFetchClient{}
}

func (c *ftpFetchClient) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ftp URL: %v", ErrTransport, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "ftp" && scheme != "ftps" {
		return nil, fmt.Errorf("%w: %q is not an ftp/ftps URL", ErrUnsupportedScheme, req.URL)
	}
	remotePath := parsed.Path
	if remotePath == "" || remotePath == "/" {
		return nil, fmt.Errorf("%w: ftp URL has no file path", ErrValidation)
	}

	user, password := "anonymous", "anonymous"
	if parsed.User != nil {
		user = parsed.User.Username()
		if p, ok := parsed.User.Password(); ok {
			password = p
		}
	}
	host := parsed.Host
	if !strings.Contains(host, ":") {
		host += ":21"
	}

	conn, err := c.connect(ctx, host, user, password, scheme == "ftps")
	if err != nil {
		return nil, fmt.Errorf("%w: ftp connect: %v", ErrTransport, err)
	}

	size, err := conn.FileSize(remotePath)
	if err != nil {
		conn.Quit()
		return &FetchResponse{OK: false, StatusCode: 404}, nil
	}

	headers := map[string]string{
		"content-length":  strconv.FormatInt(size, 10),
		"accept-ranges":   "bytes",
		"content-type":    "application/octet-stream",
		"x-filename-hint": path.Base(remotePath),
	}

	if strings.EqualFold(req.Method, "HEAD") {
		conn.Quit()
		return &FetchResponse{OK: true, StatusCode: 200, Headers: headers}, nil
	}

	if err := conn.Type(ftp.TransferTypeBinary); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("%w: ftp type: %v", ErrTransport, err)
	}

	offset, partial := rangeOffset(req.Headers["Range"])
	var resp *ftp.Response
	if offset > 0 {
		resp, err = conn.RetrFrom(remotePath, uint64(offset))
	} else {
		resp, err = conn.Retr(remotePath)
	}
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("%w: ftp retr: %v", ErrTransport, err)
	}

	status := 200
	if partial {
		status = 206
		headers["content-range"] = fmt.Sprintf("bytes %d-%d/%d", offset, size-1, size)
		headers["content-length"] = strconv.FormatInt(size-offset, 10)
	}

	return &FetchResponse{
		OK:         true,
		StatusCode: status,
		Headers:    headers,
		Body:       &ftpReadCloser{Response: resp, conn: conn},
	}, nil
}

// ftpReadCloser closes the data connection and logs out of the control
// connection together, so a caller that only holds FetchResponse.Body tears
// the whole session down.
type ftpReadCloser struct {
	*ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpReadCloser) Close() error {
	err := r.Response.Close()
	r.conn.Quit()
	return err
}

func (c *ftpFetchClient) connect(ctx context.Context, host, user, password string, useTLS bool) (*ftp.ServerConn, error) {
	opts := []ftp.DialOption{
		ftp.DialWithTimeout(30 * time.Second),
		ftp.DialWithContext(ctx),
	}
	if useTLS {
		hostname := host
		if h, _, err := net.SplitHostPort(host); err == nil {
			hostname = h
		}
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{
			ServerName: hostname,
			MinVersion: tls.VersionTLS12,
		}))
	}

	conn, err := ftp.Dial(host, opts...)
	if err != nil {
		return nil, err
	}
	if err := conn.Login(user, password); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}
