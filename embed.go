package interpersonal

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed embedded/*
var embeddedAssets embed.FS

// assetHandler serves the stylesheet used by the owner pages. The CSP
// forbids inline styles, so it has to come from here.
func assetHandler() echo.HandlerFunc {
	sub, err := fs.Sub(embeddedAssets, "embedded")
	if err != nil {
		panic(err)
	}
	return echo.WrapHandler(http.StripPrefix("/static/", http.FileServer(http.FS(sub))))
}
