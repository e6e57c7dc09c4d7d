package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	log "github.com/sirupsen/logrus"

	"rpa-agent/internal/model"
)

// Browser runs navigation steps in Chromium via the DevTools protocol. Each
// step gets a fresh tab so authentication state never leaks between steps.
type Browser struct {
	reportDir  string
	navTimeout time.Duration
}

func NewBrowser(reportDir string, navTimeout time.Duration) *Browser {
	return &Browser{reportDir: reportDir, navTimeout: navTimeout}
}

// Run visits every route of the document in order, applying authentication,
// waits, and captures as configured. It fails on the first broken step; the
// captures taken so far are returned alongside the error.
func (b *Browser) Run(ctx context.Context, doc *model.Document) ([]model.Capture, []model.StepResult, error) {
	if err := validateRoutes(doc.RPA.Routes); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(b.reportDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed creating report directory: %w", err)
	}

	safeStamp := "headless"
	if doc.RPA.VisibleBrowser {
		safeStamp = time.Now().Format("2006-01-02_15-04-05")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !doc.RPA.VisibleBrowser),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	captures := []model.Capture{}
	steps := []model.StepResult{}
	width, height := viewport(doc.RPA.Screen)

	for idx, route := range doc.RPA.Routes {
		capture, step, err := b.runStep(browserCtx, doc, route, idx, width, height, safeStamp)
		if err != nil {
			return captures, steps, fmt.Errorf("step %d (%s): %w", idx+1, route.URL, err)
		}
		steps = append(steps, step)
		if capture != nil {
			captures = append(captures, *capture)
		}
	}
	return captures, steps, nil
}

func (b *Browser) runStep(browserCtx context.Context, doc *model.Document, route model.Route, idx int, width, height int64, safeStamp string) (*model.Capture, model.StepResult, error) {
	step := model.StepResult{URL: route.URL}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	navCtx, cancelNav := context.WithTimeout(tabCtx, b.navTimeout)
	defer cancelNav()

	setup := chromedp.Tasks{chromedp.EmulateViewport(width, height)}
	if route.RequiresAuth && route.AuthType == "http_basic" && route.HTTPBasic != nil {
		credentials := base64.StdEncoding.EncodeToString(
			[]byte(route.HTTPBasic.Username + ":" + route.HTTPBasic.Password))
		setup = append(setup,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Basic " + credentials}),
		)
	}

	log.WithFields(log.Fields{"url": route.URL, "step": idx + 1}).Info("Navigating")
	start := time.Now()
	if err := chromedp.Run(navCtx, append(setup, chromedp.Navigate(route.URL))...); err != nil {
		return nil, step, fmt.Errorf("failed navigating: %w", err)
	}
	step.LoadSeconds = time.Since(start).Seconds()

	if route.RequiresAuth && route.AuthType == "form_js" && route.FormJS != nil {
		if err := chromedp.Run(navCtx, formLogin(route.FormJS)...); err != nil {
			return nil, step, fmt.Errorf("failed applying form authentication: %w", err)
		}
	}

	if route.WaitTimeMs > 0 {
		if err := chromedp.Run(navCtx, chromedp.Sleep(time.Duration(route.WaitTimeMs)*time.Millisecond)); err != nil {
			return nil, step, fmt.Errorf("failed waiting on page: %w", err)
		}
	}

	if !route.Capture {
		return nil, step, nil
	}

	var buf []byte
	var shot chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if doc.RPA.Screen.FullPage {
		shot = chromedp.FullScreenshot(&buf, 90)
	}
	if err := chromedp.Run(navCtx, shot); err != nil {
		return nil, step, fmt.Errorf("failed capturing screenshot: %w", err)
	}

	fileName := fmt.Sprintf("capture_%d_%s.png", idx+1, safeStamp)
	path := filepath.Join(b.reportDir, fileName)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return nil, step, fmt.Errorf("failed writing screenshot: %w", err)
	}
	step.CaptureFile = fileName
	log.WithFields(log.Fields{"url": route.URL, "file": path}).Info("Capture taken")
	return &model.Capture{URL: route.URL, ImagePath: path}, step, nil
}

// formLogin fills a scripted login form. Selectors default to #username and
// #password; the login action is either the Enter key or a selector to click.
func formLogin(form *model.FormAuth) chromedp.Tasks {
	usernameSel := form.UsernameSelector
	if usernameSel == "" {
		usernameSel = "#username"
	}
	passwordSel := form.PasswordSelector
	if passwordSel == "" {
		passwordSel = "#password"
	}

	tasks := chromedp.Tasks{
		chromedp.SendKeys(usernameSel, form.UsernameValue, chromedp.ByQuery),
		chromedp.SendKeys(passwordSel, form.PasswordValue, chromedp.ByQuery),
	}
	action := form.LoginAction
	if action == "" || action == "Enter" || action == "enter" {
		tasks = append(tasks, chromedp.KeyEvent(kb.Enter))
	} else {
		tasks = append(tasks, chromedp.Click(action, chromedp.ByQuery))
	}
	return tasks
}
