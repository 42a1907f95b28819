package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/dmitrijs2005/facegate/internal/common"
	"github.com/dmitrijs2005/facegate/internal/server/services"
)

const (
	maxImageSize = 5 << 20
	// maxUploadBody leaves room for multipart framing and the text fields.
	maxUploadBody = maxImageSize + 1<<20
)

var imageFields = []string{"face", "image"}

var errNoImage = errors.New("no image provided")

// readImage pulls the face image out of a multipart request. The field
// may be named "face" or "image".
func readImage(c echo.Context) (services.Image, error) {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxUploadBody)

	for _, field := range imageFields {
		fh, err := c.FormFile(field)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return services.Image{}, fmt.Errorf("%w: image larger than 5MB", common.ErrorValidation)
			}
			continue
		}

		if fh.Size > maxImageSize {
			return services.Image{}, fmt.Errorf("%w: image larger than 5MB", common.ErrorValidation)
		}
		contentType := fh.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			return services.Image{}, fmt.Errorf("%w: only image uploads are accepted", common.ErrorValidation)
		}

		f, err := fh.Open()
		if err != nil {
			return services.Image{}, err
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
		if err != nil {
			return services.Image{}, err
		}
		if len(data) == 0 {
			break
		}
		return services.Image{Data: data, Filename: fh.Filename, ContentType: contentType}, nil
	}

	return services.Image{}, fmt.Errorf("%w: %v", common.ErrorValidation, errNoImage)
}

func clientInfo(c echo.Context) services.ClientInfo {
	return services.ClientInfo{IP: c.RealIP(), UserAgent: c.Request().UserAgent()}
}
