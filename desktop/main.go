package main

import (
	"os"
	goruntime "runtime"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/menu/keys"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
	"go.uber.org/zap"
)

func main() {
	// Create an instance of the app structure
	app := NewApp()

	// Create application menu
	appMenu := createMenu(app)

	// Create application with options
	err := wails.Run(&options.App{
		Title:             "Tinkerpen",
		Width:             1280,
		Height:            800,
		MinWidth:          800,
		MinHeight:         600,
		DisableResize:     false,
		Fullscreen:        false,
		Frameless:         false,
		StartHidden:       false,
		HideWindowOnClose: false,
		BackgroundColour:  &options.RGBA{R: 30, G: 30, B: 30, A: 1},
		Menu:              appMenu,
		AssetServer: &assetserver.Options{
			Handler: app.GetHandler(),
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []any{
			app,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: false,
				HideTitle:                  false,
				HideTitleBar:               false,
				FullSizeContent:            false,
				UseToolbar:                 false,
				HideToolbarSeparator:       true,
			},
			About: &mac.AboutInfo{
				Title:   "Tinkerpen",
				Message: "A live HTML, CSS and JavaScript playground.\n\nBuilt with Wails and Go.",
			},
		},
		Windows: &windows.Options{
			WebviewIsTransparent: false,
			WindowIsTranslucent:  false,
			DisableWindowIcon:    false,
		},
	})

	if err != nil {
		println("Error:", err.Error())
		os.Exit(1)
	}
}

func createMenu(app *App) *menu.Menu {
	appMenu := menu.NewMenu()

	fileMenu := appMenu.AddSubmenu("File")
	fileMenu.AddText("Open Project...", keys.CmdOrCtrl("o"), func(cd *menu.CallbackData) {
		if _, err := app.OpenDirectory(); err != nil {
			app.logger.Warn("open project failed", zap.Error(err))
		}
	})
	fileMenu.AddText("New Scratch", keys.CmdOrCtrl("n"), func(cd *menu.CallbackData) {
		if _, err := app.NewScratch(); err != nil {
			app.logger.Warn("new scratch failed", zap.Error(err))
		}
	})
	fileMenu.AddSeparator()
	fileMenu.AddText("Reset Documents", nil, func(cd *menu.CallbackData) {
		if err := app.ResetDocuments(); err != nil {
			app.logger.Warn("reset failed", zap.Error(err))
		}
	})

	if goruntime.GOOS != "darwin" {
		fileMenu.AddSeparator()
		fileMenu.AddText("Exit", keys.OptionOrAlt("F4"), func(cd *menu.CallbackData) {
			os.Exit(0)
		})
	}

	// Edit menu (standard on macOS)
	if goruntime.GOOS == "darwin" {
		editMenu := appMenu.AddSubmenu("Edit")
		editMenu.AddText("Undo", keys.CmdOrCtrl("z"), nil)
		editMenu.AddText("Redo", keys.CmdOrCtrl("shift+z"), nil)
		editMenu.AddSeparator()
		editMenu.AddText("Cut", keys.CmdOrCtrl("x"), nil)
		editMenu.AddText("Copy", keys.CmdOrCtrl("c"), nil)
		editMenu.AddText("Paste", keys.CmdOrCtrl("v"), nil)
		editMenu.AddText("Select All", keys.CmdOrCtrl("a"), nil)
	}

	return appMenu
}
