package webmonitor

import "html/template"

type indexData struct {
	Title          string
	Threshold      float64
	RequiredFrames int
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin:0; background:#0f172a; font-family:system-ui; color:#e2e8f0; }
        h1 { color:#4ade80; text-align:center; padding:20px 20px 0; }
        .sub { color:#fbbf24; text-align:center; }
        .feed { width:100%; max-width:900px; display:block; margin:0 auto; border-radius:12px; }
        .bar { display:flex; gap:12px; justify-content:center; align-items:center; margin:16px; }
        button { padding:8px 18px; border:0; border-radius:6px; font-size:15px; cursor:pointer; }
        #toggle.on { background:#ef4444; color:#fff; }
        #toggle.off { background:#22c55e; color:#fff; }
        .stats { display:flex; gap:18px; justify-content:center; font-size:14px; }
        .stats b { color:#fff; }
        #alert { text-align:center; color:#f87171; min-height:1.4em; }
    </style>
</head>
<body>
    <h1>🤖 City Eye AI - DEMO MODE</h1>
    <p class="sub">{{printf "%.0f" .Threshold}}% confidence + {{.RequiredFrames}}-frame validation | No DB writes</p>
    <div class="bar">
        <button id="toggle" class="off">Start</button>
        <button id="snap">Snapshot</button>
        <span id="state">paused</span>
    </div>
    <div class="stats">
        <span>Detections <b id="total">-</b></span>
        <span>Validation <b id="count">0</b>/{{.RequiredFrames}}</span>
        <span>Camera <b id="camera">-</b></span>
    </div>
    <p id="alert"></p>
    <img class="feed" src="/video_feed" alt="Live feed">
    <script>
        const toggle = document.getElementById('toggle');
        function render(s) {
            toggle.textContent = s.active ? 'Stop' : 'Start';
            toggle.className = s.active ? 'on' : 'off';
            document.getElementById('state').textContent = s.active ? 'detecting' : 'paused';
            document.getElementById('total').textContent = s.stats.total_detections;
            document.getElementById('count').textContent = s.stats.validation_count;
            document.getElementById('camera').textContent = s.camera_id;
        }
        toggle.onclick = async () => {
            const r = await fetch('/api/toggle', { method: 'POST' });
            if (r.ok) fetch('/api/status').then(r => r.json()).then(render);
        };
        document.getElementById('snap').onclick = async () => {
            const r = await fetch('/api/snapshot');
            const body = await r.json();
            if (!r.ok) { document.getElementById('alert').textContent = body.error; return; }
            window.open().document.write('<img src="' + body.image + '">');
        };
        const es = new EventSource('/api/status/stream');
        es.onmessage = e => render(JSON.parse(e.data));
        es.addEventListener('confirmation', e => {
            const c = JSON.parse(e.data);
            document.getElementById('alert').textContent =
                'Confirmed after ' + c.count + ' frames @ ' + (c.confidence * 100).toFixed(1) + '%';
        });
        fetch('/api/status').then(r => r.json()).then(render);
    </script>
</body>
</html>
`))
