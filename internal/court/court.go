// Package court drives the San Francisco Superior Court case-info site
// through a browser session and extracts structured results.
package court

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/opencourt/sfcivil/internal/civil"
	"github.com/opencourt/sfcivil/internal/scrape"
)

// Session is the slice of the browser session the driver needs.
type Session interface {
	Run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error
}

// Config locates the site and bounds navigation.
type Config struct {
	// BaseURL is the case-info search page.
	BaseURL string
	// CaseURLPrefix resolves the relative links in search results.
	CaseURLPrefix string
	// NavTimeout bounds each navigation before the session is treated
	// as stuck.
	NavTimeout time.Duration
}

// Driver implements scrape.Court on top of a DevTools session.
type Driver struct {
	cfg     Config
	session Session
	logger  *zap.Logger
}

// NewDriver builds a court driver.
func NewDriver(cfg Config, session Session, logger *zap.Logger) *Driver {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	return &Driver{cfg: cfg, session: session, logger: logger}
}

// The site renders search results and registers of actions as DataTables.
// Extraction happens in page JavaScript so one round trip returns the
// whole table.
const (
	filingsTabSelector   = "#ui-id-3"
	filingDateSelector   = "#FilingDate"
	searchButtonSelector = "#NFSearch"
	resultsCountSelector = "#resultsCount"
	pageLengthSelector   = `select[name="example_length"]`

	extractSearchRowsJS = `
(() => {
  const rows = document.querySelectorAll('#example tbody tr');
  const out = [];
  for (const row of rows) {
    const cells = row.querySelectorAll('td');
    if (cells.length < 2) continue;
    const link = cells[0].querySelector('a');
    out.push({
      caseNumber: cells[0].innerText.trim(),
      title: cells[1].innerText.trim(),
      link: link ? link.getAttribute('href') : '',
    });
  }
  return out;
})()`

	extractCasePageJS = `
(() => {
  const actions = [];
  for (const row of document.querySelectorAll('#example tbody tr')) {
    const cells = row.querySelectorAll('td');
    if (cells.length < 2) continue;
    const link = row.querySelector('a');
    actions.push({
      date: cells[0].innerText.trim(),
      proceedings: cells[1].innerText.trim(),
      fee: cells.length > 2 ? cells[2].innerText.trim() : '',
      docURL: link ? link.href : '',
    });
  }
  const parties = [];
  for (const cell of document.querySelectorAll('#partyTable tbody tr td:first-child')) {
    const name = cell.innerText.trim();
    if (name) parties.push(name);
  }
  return {
    content: document.body ? document.body.innerText : '',
    parties: parties,
    actions: actions,
  };
})()`
)

var (
	caseNumberSanitizer = regexp.MustCompile(`[^a-zA-Z0-9-]`)
	filenameSanitizer   = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	docIDPattern        = regexp.MustCompile(`DocID(?:%3D|=)(\d+)`)
	noFilingsPattern    = regexp.MustCompile(`(?i)no cases found`)
)

type searchRow struct {
	CaseNumber string `json:"caseNumber"`
	Title      string `json:"title"`
	Link       string `json:"link"`
}

type casePageRow struct {
	Date        string `json:"date"`
	Proceedings string `json:"proceedings"`
	Fee         string `json:"fee"`
	DocURL      string `json:"docURL"`
}

type casePagePayload struct {
	Content string        `json:"content"`
	Parties []string      `json:"parties"`
	Actions []casePageRow `json:"actions"`
}

// SearchNewFilings runs the new-filings search for one date and returns
// every result row. An empty day returns an empty slice, not an error.
func (d *Driver) SearchNewFilings(ctx context.Context, date civil.Date) ([]scrape.CaseRef, error) {
	var (
		resultsCount string
		rows         []searchRow
	)
	err := d.session.Run(ctx, d.cfg.NavTimeout,
		chromedp.Navigate(d.cfg.BaseURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Click(filingsTabSelector, chromedp.ByQuery),
		chromedp.WaitVisible(filingDateSelector, chromedp.ByQuery),
		chromedp.SetValue(filingDateSelector, siteDate(date), chromedp.ByQuery),
		chromedp.Click(searchButtonSelector, chromedp.ByQuery),
		chromedp.WaitVisible(resultsCountSelector, chromedp.ByQuery),
		chromedp.Text(resultsCountSelector, &resultsCount, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("search filings for %s: %w", date, err)
	}

	if noFilingsPattern.MatchString(resultsCount) {
		return nil, nil
	}

	// Collapse pagination so the extraction sees every row at once.
	err = d.session.Run(ctx, d.cfg.NavTimeout,
		chromedp.WaitVisible(pageLengthSelector, chromedp.ByQuery),
		chromedp.SetValue(pageLengthSelector, "-1", chromedp.ByQuery),
		chromedp.Evaluate(`document.querySelector('`+pageLengthSelector+`').dispatchEvent(new Event('change', {bubbles: true}))`, nil),
		chromedp.Evaluate(extractSearchRowsJS, &rows),
	)
	if err != nil {
		return nil, fmt.Errorf("extract filings for %s: %w", date, err)
	}

	refs := make([]scrape.CaseRef, 0, len(rows))
	for _, row := range rows {
		num := SanitizeCaseNumber(row.CaseNumber)
		if num == "" {
			continue
		}
		refs = append(refs, scrape.CaseRef{
			CaseNumber: num,
			Title:      row.Title,
			Link:       row.Link,
		})
	}
	d.logger.Info("filings search returned",
		zap.Stringer("date", date),
		zap.Int("cases", len(refs)),
	)
	return refs, nil
}

// OpenCase navigates to one case's register of actions and extracts it.
// A navigation timeout here means the session is wedged and surfaces as
// a stuck error carrying the case number.
func (d *Driver) OpenCase(ctx context.Context, ref scrape.CaseRef) (scrape.CasePage, error) {
	target, err := d.caseURL(ref)
	if err != nil {
		return scrape.CasePage{}, fmt.Errorf("case %s: %w", ref.CaseNumber, scrape.ErrMalformedPage)
	}

	var payload casePagePayload
	err = d.session.Run(ctx, d.cfg.NavTimeout,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		waitCaseLoaded(),
		chromedp.Evaluate(extractCasePageJS, &payload),
	)
	if err != nil {
		if errors.Is(err, scrape.ErrNavigationTimeout) {
			return scrape.CasePage{}, scrape.Stuck(ref.CaseNumber, err)
		}
		return scrape.CasePage{}, fmt.Errorf("open case %s: %w", ref.CaseNumber, err)
	}

	page := scrape.CasePage{
		Content: payload.Content,
		Parties: payload.Parties,
	}
	for _, row := range payload.Actions {
		entry := scrape.ActionEntry{
			Date:        row.Date,
			Proceedings: row.Proceedings,
			Fee:         row.Fee,
		}
		if docID := ExtractDocID(row.DocURL); docID != "" {
			entry.DocID = docID
			entry.DocURL = row.DocURL
			entry.DocFilename = DocFilename(row.Date, docID)
		}
		page.Actions = append(page.Actions, entry)
	}
	return page, nil
}

// waitCaseLoaded polls until the page has either a register table or a
// recognizable restriction notice. Restricted pages never render the
// table, so waiting on the table alone would time out on them.
func waitCaseLoaded() chromedp.Action {
	const readyJS = `
(() => {
  if (document.querySelector('select[name="example_length"]')) return true;
  const text = document.body ? document.body.innerText : '';
  return text.includes('Per CCP') ||
    text.includes('Not Available For Viewing') ||
    text.includes('No Case Information Found');
})()`
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			var ready bool
			if err := chromedp.Evaluate(readyJS, &ready).Do(ctx); err != nil {
				return err
			}
			if ready {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

// caseURL resolves the relative search-result link against the site.
func (d *Driver) caseURL(ref scrape.CaseRef) (string, error) {
	link := strings.TrimSpace(ref.Link)
	if link == "" {
		return "", errors.New("empty case link")
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if parsed.IsAbs() {
		return link, nil
	}
	return strings.TrimRight(d.cfg.CaseURLPrefix, "/") + "/" + strings.TrimLeft(link, "/"), nil
}

// siteDate renders a date the way the search form expects it.
func siteDate(date civil.Date) string {
	return date.Format("01/02/2006")
}

// SanitizeCaseNumber strips everything but letters, digits, and hyphens,
// since the case number becomes a directory name.
func SanitizeCaseNumber(raw string) string {
	return caseNumberSanitizer.ReplaceAllString(strings.TrimSpace(raw), "")
}

// ExtractDocID pulls the document id out of a register-row link. Returns
// empty when the row carries no downloadable document.
func ExtractDocID(docURL string) string {
	match := docIDPattern.FindStringSubmatch(docURL)
	if match == nil {
		return ""
	}
	return match[1]
}

// DocFilename names a downloaded document after its action date and
// document id, normalizing the site's MM/DD/YYYY dates so filenames sort
// chronologically.
func DocFilename(actionDate, docID string) string {
	date := strings.TrimSpace(actionDate)
	if t, err := time.Parse("01/02/2006", date); err == nil {
		date = t.Format("2006-01-02")
	} else {
		date = strings.Trim(filenameSanitizer.ReplaceAllString(date, "-"), "-")
	}
	return date + "_" + docID + ".pdf"
}
