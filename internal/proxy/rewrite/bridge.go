package rewrite

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Message types of the navigation bridge protocol. The embedding page
// re-invokes the fetch endpoint on NAVIGATE and opens OPEN_EXTERNAL targets
// outside the sandbox, never auto-submitting them.
const (
	MessageNavigate     = "DAEDALOS_BROWSER_NAVIGATE"
	MessageOpenExternal = "DAEDALOS_BROWSER_OPEN_EXTERNAL"
)

// bridgeScript intercepts link clicks and form submits inside the rewritten
// document and reports them to the embedding page via postMessage instead
// of letting the sandbox navigate itself. GET form data is folded into the
// action's query string; non-GET submissions are handed off as external
// opens because state-changing requests are never silently replayed.
const bridgeScript = `(function () {
  function post(type, url) {
    window.parent.postMessage({ type: type, url: url }, "*");
  }
  document.addEventListener("click", function (e) {
    var el = e.target;
    while (el && el !== document.documentElement) {
      if (el.tagName === "A" && el.getAttribute("href")) {
        e.preventDefault();
        post("%s", new URL(el.getAttribute("href"), document.baseURI).href);
        return;
      }
      el = el.parentElement;
    }
  }, true);
  document.addEventListener("submit", function (e) {
    var form = e.target;
    if (!form || form.tagName !== "FORM") { return; }
    e.preventDefault();
    var action = new URL(form.getAttribute("action") || document.baseURI, document.baseURI);
    var method = (form.getAttribute("method") || "get").toLowerCase();
    if (method === "get") {
      action.search = new URLSearchParams(new FormData(form)).toString();
      post("%s", action.href);
    } else {
      post("%s", action.href);
    }
  }, true);
})();`

// BridgeScript returns the navigation bridge source injected into every
// rewritten document.
func BridgeScript() string {
	return fmt.Sprintf(bridgeScript, MessageNavigate, MessageNavigate, MessageOpenExternal)
}

// injectBridge appends the bridge script to the end of body so it runs
// after the document's own content has been parsed.
func injectBridge(doc *goquery.Document) {
	doc.Find("body").First().AppendHtml("<script>" + BridgeScript() + "</script>")
}
