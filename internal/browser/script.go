package browser

import (
	"encoding/json"
	"fmt"

	"listenmode/internal/config"
)

// ScriptConfig is handed to the page script as its only argument.
type ScriptConfig struct {
	PlayerSelector   string   `json:"player"`
	ControlsSelector string   `json:"controls"`
	ActiveClass      string   `json:"activeClass"`
	ChannelSelectors []string `json:"channelSelectors"`
	CSS              string   `json:"css"`
}

// NewScriptConfig fills blanks from the defaults.
func NewScriptConfig(lm config.ListenModeConfig) ScriptConfig {
	def := config.DefaultConfig().ListenMode
	sc := ScriptConfig{
		PlayerSelector:   coalesce(lm.PlayerSelector, def.PlayerSelector),
		ControlsSelector: coalesce(lm.ControlsSelector, def.ControlsSelector),
		ActiveClass:      coalesce(lm.ActiveClass, def.ActiveClass),
		ChannelSelectors: lm.ChannelSelectors,
	}
	if len(sc.ChannelSelectors) == 0 {
		sc.ChannelSelectors = def.ChannelSelectors
	}
	sc.CSS = fmt.Sprintf(styleTemplate, sc.ActiveClass)
	return sc
}

// InstallScript returns a self-invoking script suitable for EvalOnNewDocument.
func (sc ScriptConfig) InstallScript() (string, error) {
	raw, err := json.Marshal(sc)
	if err != nil {
		return "", fmt.Errorf("encode script config: %w", err)
	}
	return "(" + installJS + ")(" + string(raw) + ");", nil
}

const styleTemplate = `
.%[1]s video { opacity: 0 !important; }
.ytb-listen-mode-overlay {
  position: absolute; inset: 0; z-index: 10; pointer-events: none;
  display: flex; flex-direction: column; align-items: center; justify-content: center; gap: 12px;
  background: #0f0f0f; color: #fff; font: 500 20px Roboto, Arial, sans-serif;
}
.ytb-listen-mode-btn svg { fill: #fff; margin: auto; }
`

// installJS defines window.__listenMode. It is idempotent per document.
//
// Events queued for the drain loop:
//
//	mount    the toggle button was inserted into the player controls
//	navigate YouTube finished an in-app navigation
//	manual   the user clicked the toggle button
const installJS = `(cfg) => {
	const w = window;
	if (w.__listenMode) return true;

	const SVG_HEADPHONES = '<svg viewBox="0 0 24 24" focusable="false" style="pointer-events:none;display:block;width:50%;height:50%"><path d="M12 3c-4.97 0-9 4.03-9 9v7c0 1.1.9 2 2 2h3c1.1 0 2-.9 2-2v-4c0-1.1-.9-2-2-2H5v-1c0-3.87 3.13-7 7-7s7 3.13 7 7v1h-3c-1.1 0-2 .9-2 2v4c0 1.1.9 2 2 2h3c1.1 0 2-.9 2-2v-7c0-4.97-4.03-9-9-9z"></path></svg>';
	const SVG_VIDEO = '<svg viewBox="0 0 24 24" focusable="false" style="pointer-events:none;display:block;width:50%;height:50%"><path d="M21 3H3c-1.1 0-2 .9-2 2v14c0 1.1.9 2 2 2h18c1.1 0 2-.9 2-2V5c0-1.1-.9-2-2-2zm0 16H3V5h18v14zm-10-7h9v6h-9z"></path></svg>';

	const queue = [];
	const push = (ev) => {
		ev.ts = Date.now();
		queue.push(ev);
		if (queue.length > 200) queue.shift();
	};

	const player = () => document.querySelector(cfg.player);
	const button = () => document.querySelector('.ytb-listen-mode-btn');

	const ensureStyle = () => {
		if (document.getElementById('ytb-listen-mode-style')) return;
		const style = document.createElement('style');
		style.id = 'ytb-listen-mode-style';
		style.textContent = cfg.css;
		(document.head || document.documentElement).appendChild(style);
	};

	const render = (p, active) => {
		const btn = button();
		if (btn) {
			btn.innerHTML = active ? SVG_VIDEO : SVG_HEADPHONES;
			btn.title = active ? 'Disable Listen Mode' : 'Enable Listen Mode';
		}
		const overlay = p.querySelector('.ytb-listen-mode-overlay');
		if (active && !overlay) {
			const o = document.createElement('div');
			o.className = 'ytb-listen-mode-overlay';
			const label = document.createElement('span');
			label.textContent = 'Audio Only Mode';
			o.appendChild(label);
			p.appendChild(o);
		} else if (!active && overlay) {
			overlay.remove();
		}
	};

	const state = () => {
		const p = player();
		return { mounted: !!p, active: !!p && p.classList.contains(cfg.activeClass) };
	};

	const setActive = (on) => {
		const p = player();
		if (!p) return { mounted: false, active: false, changed: false };
		const was = p.classList.contains(cfg.activeClass);
		if (was !== on) p.classList.toggle(cfg.activeClass, on);
		render(p, on);
		return { mounted: true, active: on, changed: was !== on };
	};

	const toggle = () => {
		const s = state();
		if (!s.mounted) return { mounted: false, active: false, changed: false };
		return setActive(!s.active);
	};

	const channelName = () => {
		for (const sel of cfg.channelSelectors) {
			const el = document.querySelector(sel);
			if (!el) continue;
			const name = (el.textContent || '').trim();
			if (name) return name;
		}
		return null;
	};

	const drain = () => queue.splice(0, queue.length);

	const mount = () => {
		const controls = document.querySelector(cfg.controls);
		if (!controls || button()) return;
		ensureStyle();
		const btn = document.createElement('button');
		btn.className = 'ytp-button ytb-listen-mode-btn';
		btn.title = 'Enable Listen Mode';
		btn.innerHTML = SVG_HEADPHONES;
		btn.onclick = () => {
			const r = toggle();
			push({ type: 'manual', active: r.active, url: location.href });
		};
		controls.insertBefore(btn, controls.firstChild);
		push({ type: 'mount', url: location.href });
	};

	w.__listenMode = { state, setActive, toggle, channelName, drain };

	const start = () => {
		mount();
		new MutationObserver(mount).observe(document.body || document.documentElement, { childList: true, subtree: true });
	};
	if (document.readyState === 'loading') {
		document.addEventListener('DOMContentLoaded', start);
	} else {
		start();
	}
	document.addEventListener('yt-navigate-finish', () => push({ type: 'navigate', url: location.href }));
	return true;
}`

// callJS invokes one method of the page API. A page without the API reports
// {missing: true} rather than throwing.
const callJS = `(method, args) => {
	const api = window.__listenMode;
	if (!api || typeof api[method] !== 'function') return { missing: true };
	const out = api[method](...(args || []));
	return out === undefined ? null : out;
}`

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
