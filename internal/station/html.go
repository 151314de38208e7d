package station

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>DeepWatch Station</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: monospace; background: #0b1620; color: #cfe3f0; margin: 0; padding: 24px; }
        h1 { font-size: 20px; margin: 0 0 4px; }
        .sub { color: #6f8ca0; margin-bottom: 20px; }
        .panel { background: #122334; border: 1px solid #1e3a50; border-radius: 6px; padding: 14px 18px; margin-bottom: 14px; max-width: 640px; }
        .panel h2 { font-size: 14px; margin: 0 0 10px; color: #7fd4ff; }
        .row { display: flex; justify-content: space-between; padding: 2px 0; }
        .row .k { color: #6f8ca0; }
        code { color: #9fe0a0; }
    </style>
</head>
<body>
    <h1>DeepWatch Station</h1>
    <div class="sub">Synthetic sonar telemetry stream</div>

    <div class="panel">
        <h2>Stream</h2>
        <div class="row"><span class="k">State</span><span id="running">--</span></div>
        <div class="row"><span class="k">Scenario</span><span id="scenario">--</span></div>
        <div class="row"><span class="k">Effective FPS</span><span id="fps">--</span></div>
        <div class="row"><span class="k">Frames generated</span><span id="generated">--</span></div>
        <div class="row"><span class="k">Frames dropped</span><span id="dropped">--</span></div>
    </div>

    <div class="panel">
        <h2>Viewers</h2>
        <div class="row"><span class="k">Connected</span><span id="viewers-total">--</span></div>
        <div class="row"><span class="k">Allowed</span><span id="viewers-allowed">--</span></div>
        <div class="row"><span class="k">Blocked</span><span id="viewers-blocked">--</span></div>
    </div>

    <div class="panel">
        <h2>Endpoints</h2>
        <div class="row"><span class="k">Stream</span><code id="ws-url">ws://…/ws/stream</code></div>
        <div class="row"><span class="k">Status</span><code>/api/stream/status</code></div>
        <div class="row"><span class="k">Viewers</span><code>/api/viewers/connected</code></div>
        <div class="row"><span class="k">Recording</span><code>/api/recording/status</code></div>
    </div>

    <script>
        async function refresh() {
            try {
                const status = await fetch('/api/stream/status').then(r => r.json());
                document.getElementById('running').textContent = status.running ? 'streaming' : 'stopped';
                document.getElementById('scenario').textContent = status.scenario;
                document.getElementById('fps').textContent = status.fps.toFixed(1);
                document.getElementById('generated').textContent = status.frames_generated;
                document.getElementById('dropped').textContent = status.frames_dropped;

                const viewers = await fetch('/api/viewers/connected').then(r => r.json());
                document.getElementById('viewers-total').textContent = viewers.total;
                document.getElementById('viewers-allowed').textContent = viewers.allowed;
                document.getElementById('viewers-blocked').textContent = viewers.blocked;

                const info = await fetch('/api/server/info').then(r => r.json());
                document.getElementById('ws-url').textContent = info.stream_url;
            } catch (e) {
                document.getElementById('running').textContent = 'unreachable';
            }
        }
        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>
`
