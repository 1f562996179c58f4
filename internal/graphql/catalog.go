package graphql

// Main API
// ========

var Info = MustOperation(SurfaceAPI, `
	query Info {
		info {
			publicHost
			title
			passwordHash
			passwordOutputHash
			deleteConfirmation
			enableConfirmation
		}
	}
`)

var SetPassword = MustOperation(SurfaceAPI, `
	mutation SetPassword($new: String, $old: String, $kind: PasswordKind!) {
		setPassword(new: $new, old: $old, kind: $kind)
	}
`)

var SetSettings = MustOperation(SurfaceAPI, `
	mutation SetSettings(
		$title: String
		$delete_confirmation: Boolean!
		$enable_confirmation: Boolean!
	) {
		setSettings(
			title: $title
			deleteConfirmation: $delete_confirmation
			enableConfirmation: $enable_confirmation
		)
	}
`)

var Import = MustOperation(SurfaceAPI, `
	mutation Import($restream_id: RestreamId, $replace: Boolean!, $spec: String!) {
		import(restreamId: $restream_id, replace: $replace, spec: $spec)
	}
`)

var Export = MustOperation(SurfaceAPI, `
	query ExportAllRestreams {
		export
	}
`)

// Dashboard API
// =============

var DashboardAddClient = MustOperation(SurfaceDashboard, `
	mutation AddClient($client_id: ClientId!) {
		addClient(clientId: $client_id)
	}
`)

var DashboardRemoveClient = MustOperation(SurfaceDashboard, `
	mutation RemoveClient($client_id: ClientId!) {
		removeClient(clientId: $client_id)
	}
`)

// Mixin API
// =========

var TuneVolume = MustOperation(SurfaceMixin, `
	mutation TuneVolume(
		$restream_id: RestreamId!
		$output_id: OutputId!
		$mixin_id: MixinId
		$level: Volume!
		$muted: Boolean!
	) {
		tuneVolume(
			restreamId: $restream_id
			outputId: $output_id
			mixinId: $mixin_id
			level: $level
			muted: $muted
		)
	}
`)

var TuneDelay = MustOperation(SurfaceMixin, `
	mutation TuneDelay(
		$restream_id: RestreamId!
		$output_id: OutputId!
		$mixin_id: MixinId!
		$delay: Delay!
	) {
		tuneDelay(restreamId: $restream_id, outputId: $output_id, mixinId: $mixin_id, delay: $delay)
	}
`)

var TuneSidechain = MustOperation(SurfaceMixin, `
	mutation TuneSidechain(
		$restream_id: RestreamId!
		$output_id: OutputId!
		$mixin_id: MixinId!
		$sidechain: Boolean!
	) {
		tuneSidechain(restreamId: $restream_id, outputId: $output_id, mixinId: $mixin_id, sidechain: $sidechain)
	}
`)

// Subscriptions
// =============

// SubscribeState streams the full restream list on every change.
var SubscribeState = MustOperation(SurfaceAPI, `
	subscription State {
		allRestreams {
			id
			key
			label
			input {
				id
				key
				enabled
				endpoints { id kind status label }
				src {
					... on RemoteInputSrc { url label }
					... on FailoverInputSrc {
						inputs {
							id
							key
							enabled
							endpoints { id kind status label }
							src { ... on RemoteInputSrc { url label } }
						}
					}
				}
			}
			outputs {
				id
				dst
				label
				previewUrl
				volume { level muted }
				mixins {
					id
					src
					volume { level muted }
					delay
					sidechain
				}
				enabled
				status
			}
		}
	}
`)

var SubscribeInfo = MustOperation(SurfaceAPI, `
	subscription Info {
		info {
			publicHost
			title
			deleteConfirmation
			enableConfirmation
		}
	}
`)

var SubscribeServerInfo = MustOperation(SurfaceAPI, `
	subscription ServerInfo {
		serverInfo {
			cpuUsage
			ramTotal
			ramFree
			txDelta
			rxDelta
			errorMsg
		}
	}
`)

// Subscriptions maps the names accepted by configuration to operations.
var Subscriptions = map[string]Operation{
	"state":      SubscribeState,
	"info":       SubscribeInfo,
	"serverinfo": SubscribeServerInfo,
}
