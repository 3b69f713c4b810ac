package qbittorrent

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"

	"github.com/peerhub/peerhub/lib/adapter"
)

// torrentUpload builds the multipart body for a raw torrent add.
func torrentUpload(raw []byte, opts adapter.AddOptions) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("torrents", "upload.torrent")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %s", err)
	}
	if _, err := fw.Write(raw); err != nil {
		return nil, "", fmt.Errorf("write form file: %s", err)
	}
	fields := map[string]string{}
	if opts.CategoryName != "" {
		fields["category"] = opts.CategoryName
	}
	if opts.SavePath != "" {
		fields["savepath"] = opts.SavePath
	}
	if opts.Paused {
		fields["paused"] = strconv.FormatBool(opts.Paused)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %s", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %s", err)
	}
	return &buf, w.FormDataContentType(), nil
}
