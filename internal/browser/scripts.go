package browser

// InjectedScript installs window.__browserpilot with the in-page serializer
// and helper functions. The walk over visible interactive elements follows
// the usual accessibility heuristics: geometry, computed style, aria-hidden,
// interactive tags and roles. Elements are addressed by absolute XPath so the
// resulting locators survive being handed back to a different call.
const InjectedScript = `
(function () {
  if (window.__browserpilot) return;

  const interactiveTags = new Set(['a', 'button', 'input', 'textarea', 'select', 'details', 'summary', 'option']);
  const interactiveRoles = new Set(['button', 'link', 'checkbox', 'menuitem', 'tab', 'textbox', 'combobox', 'option', 'radio', 'searchbox', 'switch']);
  const skipTags = new Set(['script', 'style', 'svg', 'path', 'noscript', 'template']);

  function cleanText(text) {
    if (!text) return '';
    let res = text.replace(/\s+/g, ' ').trim();
    if (res.length > 100) res = res.slice(0, 100) + '...';
    return res;
  }

  function isVisible(el) {
    if (!el || !el.getBoundingClientRect) return false;
    if (el.getAttribute('aria-hidden') === 'true') return false;
    const rect = el.getBoundingClientRect();
    const style = window.getComputedStyle(el);
    return rect.width > 0 && rect.height > 0 &&
      style.visibility !== 'hidden' &&
      style.display !== 'none' &&
      style.opacity !== '0';
  }

  function isInteractive(el) {
    const tag = el.tagName.toLowerCase();
    const role = (el.getAttribute('role') || '').toLowerCase();
    const tabIndex = el.getAttribute('tabindex');
    return interactiveTags.has(tag) ||
      interactiveRoles.has(role) ||
      (tabIndex !== null && tabIndex !== '-1') ||
      el.onclick != null;
  }

  function absoluteXPath(el) {
    const parts = [];
    let cur = el;
    while (cur && cur.nodeType === Node.ELEMENT_NODE) {
      let idx = 1;
      let sib = cur.previousElementSibling;
      while (sib) {
        if (sib.tagName === cur.tagName) idx++;
        sib = sib.previousElementSibling;
      }
      parts.unshift(cur.tagName.toLowerCase() + '[' + idx + ']');
      cur = cur.parentElement;
    }
    return '//' + parts.join('/');
  }

  function describe(el, id) {
    const tag = el.tagName.toLowerCase();
    const parts = ['<' + tag];
    let label = cleanText(el.innerText || el.textContent || '');
    if (!label) label = cleanText(el.getAttribute('aria-label') || '');
    if (!label) label = cleanText(el.getAttribute('title') || '');
    if ((tag === 'input' || tag === 'textarea') && !label) {
      label = cleanText(el.getAttribute('placeholder') || '');
    }
    if (label) parts.push('label="' + label.replace(/"/g, '\\"') + '"');
    const type = (el.getAttribute('type') || '').toLowerCase();
    if (type) parts.push('type="' + type + '"');
    if (tag === 'input' || tag === 'textarea') {
      const val = cleanText(el.value);
      if (val) parts.push('value="' + val.replace(/"/g, '\\"') + '"');
    }
    return '[' + id + '] ' + parts.join(' ') + '>';
  }

  function collect() {
    const out = [];
    const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_ELEMENT);
    let node = walker.currentNode;
    while (node) {
      const el = node;
      const tag = el.tagName ? el.tagName.toLowerCase() : '';
      if (!skipTags.has(tag) && isVisible(el) && isInteractive(el)) {
        out.push(el);
      }
      node = walker.nextNode();
    }
    return out;
  }

  function buildResult(elements, chunk, chunks) {
    const selectorMap = {};
    const lines = [];
    let id = 1;
    for (const el of elements) {
      el.setAttribute('data-bp-id', String(id));
      selectorMap[String(id)] = 'xpath=' + absoluteXPath(el);
      lines.push(describe(el, id));
      id++;
    }
    return { outputString: lines.join('\n'), selectorMap: selectorMap, chunk: chunk, chunks: chunks };
  }

  function processDom(seenChunks) {
    seenChunks = seenChunks || [];
    const chunkHeight = window.innerHeight || 720;
    const totalHeight = Math.max(document.body.scrollHeight, chunkHeight);
    const chunks = Math.max(1, Math.ceil(totalHeight / chunkHeight));
    const seen = new Set(seenChunks);
    let chunk = 0;
    while (chunk < chunks - 1 && seen.has(chunk)) chunk++;

    const lo = chunk * chunkHeight;
    const hi = lo + chunkHeight;
    const scrollY = window.scrollY || 0;
    const elements = collect().filter(function (el) {
      const top = el.getBoundingClientRect().top + scrollY;
      return top >= lo && top < hi;
    });
    return buildResult(elements, chunk, chunks);
  }

  function processAllOfDom() {
    return buildResult(collect(), 0, 1);
  }

  function waitForDomSettle(quietMs, capMs) {
    quietMs = quietMs || 500;
    capMs = capMs || 10000;
    return new Promise(function (resolve) {
      let timer = setTimeout(finish, quietMs);
      const cap = setTimeout(finish, capMs);
      const observer = new MutationObserver(function () {
        clearTimeout(timer);
        timer = setTimeout(finish, quietMs);
      });
      observer.observe(document.documentElement, { childList: true, subtree: true, attributes: true });
      function finish() {
        observer.disconnect();
        clearTimeout(timer);
        clearTimeout(cap);
        resolve(true);
      }
    });
  }

  function resolve(locator) {
    if (locator.indexOf('xpath=') === 0) {
      const res = document.evaluate(locator.slice(6), document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null);
      return res.singleNodeValue;
    }
    if (locator.indexOf('css=') === 0) {
      return document.querySelector(locator.slice(4));
    }
    return document.querySelector(locator);
  }

  function debugDom(locators) {
    (locators || []).forEach(function (loc) {
      const el = resolve(loc);
      if (el) {
        el.setAttribute('data-bp-debug', el.style.outline || '');
        el.style.outline = '3px solid red';
      }
    });
    return true;
  }

  function cleanupDebug() {
    document.querySelectorAll('[data-bp-debug]').forEach(function (el) {
      el.style.outline = el.getAttribute('data-bp-debug');
      el.removeAttribute('data-bp-debug');
    });
    return true;
  }

  window.__browserpilot = {
    processDom: processDom,
    processAllOfDom: processAllOfDom,
    waitForDomSettle: waitForDomSettle,
    debugDom: debugDom,
    cleanupDebug: cleanupDebug,
    resolve: resolve
  };
})();
`

// ensureScript guards evaluation calls on pages navigated before injection.
const ensureScriptProbe = `typeof window.__browserpilot !== 'undefined'`
